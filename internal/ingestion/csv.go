package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"PayLedger/internal/event"
	"PayLedger/internal/money"
)

// CSVSource reads transaction events from a CSV stream:
//
//	type, client, tx, amount
//	deposit, 1, 1, 1.0
//	dispute, 1, 1,
//
// Columns may carry arbitrary whitespace; dispute-family rows may omit the
// amount column entirely. Malformed rows are skipped with a diagnostic and
// never halt the stream. Events carry no source sequence (batch input is
// already ordered by position in the file).
type CSVSource struct {
	reader    *csv.Reader
	headered  bool
	malformed int
}

func NewCSVSource(r io.Reader) *CSVSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // dispute rows may have 3 fields, transactions 4
	cr.TrimLeadingSpace = true
	return &CSVSource{reader: cr}
}

// Next returns the next valid event, skipping malformed rows. Returns
// io.EOF when the stream is exhausted.
func (s *CSVSource) Next() (event.Event, error) {
	for {
		record, err := s.reader.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			// csv.Reader errors here are row-local (bare quotes etc.)
			s.malformed++
			log.Printf("WARN: skipping malformed csv row: %v", err)
			continue
		}

		if !s.headered {
			s.headered = true
			if isHeader(record) {
				continue
			}
		}

		evt, err := s.parseRecord(record)
		if err != nil {
			s.malformed++
			log.Printf("WARN: skipping malformed csv row: %v", err)
			continue
		}
		return evt, nil
	}
}

// Malformed returns the number of rows skipped so far.
func (s *CSVSource) Malformed() int {
	return s.malformed
}

func isHeader(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "type")
}

func (s *CSVSource) parseRecord(record []string) (event.Event, error) {
	if len(record) < 3 {
		return nil, fmt.Errorf("row has %d fields, want at least 3", len(record))
	}

	kind := strings.ToLower(strings.TrimSpace(record[0]))

	client64, err := strconv.ParseUint(strings.TrimSpace(record[1]), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("parse client: %w", err)
	}
	client := uint16(client64)

	tx64, err := strconv.ParseUint(strings.TrimSpace(record[2]), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse tx: %w", err)
	}
	tx := uint32(tx64)

	switch kind {
	case "deposit", "withdrawal":
		if len(record) < 4 {
			return nil, fmt.Errorf("%s row missing amount", kind)
		}
		amount, err := money.Parse(strings.TrimSpace(record[3]))
		if err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		if kind == "deposit" {
			return &event.Deposit{ClientID: client, TxID: tx, Amount: amount}, nil
		}
		return &event.Withdrawal{ClientID: client, TxID: tx, Amount: amount}, nil

	case "dispute":
		return &event.Dispute{ClientID: client, TxID: tx}, nil
	case "resolve":
		return &event.Resolve{ClientID: client, TxID: tx}, nil
	case "chargeback":
		return &event.Chargeback{ClientID: client, TxID: tx}, nil
	default:
		return nil, fmt.Errorf("unknown transaction type %q", kind)
	}
}
