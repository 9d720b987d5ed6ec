// Package report renders account state for batch output.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"PayLedger/internal/ledger"
	"PayLedger/internal/money"
)

// WriteSnapshots writes the final account state as CSV:
//
//	client,available,held,total,locked
//	1,1.5,0,1.5,false
//
// Amounts are decimal strings with trailing zeros trimmed. Callers pass
// snapshots already ordered by client id.
func WriteSnapshots(w io.Writer, snaps []ledger.Snapshot) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"client", "available", "held", "total", "locked"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, snap := range snaps {
		row := []string{
			strconv.FormatUint(uint64(snap.Client), 10),
			money.Format(snap.Available),
			money.Format(snap.Held),
			money.Format(snap.Total),
			strconv.FormatBool(snap.Locked),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row for client %d: %w", snap.Client, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
