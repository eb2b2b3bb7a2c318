/*
Package factory provides JSON to snapshot conversion for books of business.

PURPOSE:
  Converts JSON book definitions into a pipeline.Snapshot. This enables
  test and demo data without code changes - operations can describe a
  book of business in JSON and the factory expands it into the raw
  per-participant rows the extractor consumes.

WHY JSON?
  - Non-developers can author migration rehearsal data
  - Easy to diff against carrier extracts
  - Version control for rehearsal books
  - One certificate definition expands into many raw rows

JSON SCHEMA:
  {
    "brokers": [
      {"id": "BRK-1", "external_id": "NPN-100", "name": "Alpha Brokerage"}
    ],
    "groups": [
      {
        "id": "G100",
        "certificates": [
          {
            "id": "C100",
            "effective_date": "2023-02-01",
            "product": "A",
            "plan": "GOLD",
            "state": "TX",
            "splits": [
              {
                "sequence": 1,
                "participants": [
                  {"level": 1, "broker": "BRK-1", "percent": "70", "schedule": "STD"},
                  {"level": 2, "broker": "BRK-2", "percent": "30"}
                ]
              }
            ]
          }
        ]
      }
    ]
  }

KEY FEATURES:
  - Validates structure before expansion
  - Percentages parse through decimal, never float
  - A group id of "" expands to raw no-group rows
  - DemoBook ships a built-in rehearsal book exercising every
    resolution path

USAGE:
  snap, err := factory.ParseBook(data)
  snap := factory.DemoBook()
  res, err := engine.Run(ctx, snap)

SEE ALSO:
  - classify/extractor.go: consumes the expanded rows
  - cmd/migrate/main.go: seed subcommand
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/pipeline"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// BookJSON is the JSON representation of a book of business.
type BookJSON struct {
	Brokers []BrokerJSON `json:"brokers"`
	Groups  []GroupJSON  `json:"groups"`
}

// BrokerJSON is one broker master entry.
type BrokerJSON struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// GroupJSON is one group with its certificates. An empty id expands to
// raw no-group rows.
type GroupJSON struct {
	ID           string            `json:"id"`
	Certificates []CertificateJSON `json:"certificates"`
}

// CertificateJSON is one certificate definition.
type CertificateJSON struct {
	ID            string      `json:"id"`
	EffectiveDate string      `json:"effective_date"`
	Product       string      `json:"product"`
	Plan          string      `json:"plan,omitempty"` // empty = wildcard
	State         string      `json:"state,omitempty"`
	Splits        []SplitJSON `json:"splits"`
}

// SplitJSON is one split sequence with its participant chain.
type SplitJSON struct {
	Sequence     int               `json:"sequence"`
	Participants []ParticipantJSON `json:"participants"`
}

// ParticipantJSON is one broker at one level of a chain. Percent is a
// decimal string.
type ParticipantJSON struct {
	Level    int    `json:"level"`
	Broker   string `json:"broker"`
	Percent  string `json:"percent"`
	Schedule string `json:"schedule,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseBook parses a JSON book definition and expands it into the raw
// snapshot rows the pipeline consumes.
func ParseBook(data []byte) (pipeline.Snapshot, error) {
	var book BookJSON
	if err := json.Unmarshal(data, &book); err != nil {
		return pipeline.Snapshot{}, fmt.Errorf("failed to parse book JSON: %w", err)
	}
	return FromJSON(book)
}

// FromJSON expands a BookJSON into a pipeline.Snapshot.
func FromJSON(book BookJSON) (pipeline.Snapshot, error) {
	var snap pipeline.Snapshot

	for _, b := range book.Brokers {
		if b.ID == "" {
			return pipeline.Snapshot{}, fmt.Errorf("broker with empty id")
		}
		snap.Brokers = append(snap.Brokers, commission.Broker{
			ID:         commission.BrokerID(b.ID),
			ExternalID: b.ExternalID,
			Name:       b.Name,
		})
	}

	for _, g := range book.Groups {
		for _, cert := range g.Certificates {
			rows, err := expandCertificate(g.ID, cert)
			if err != nil {
				return pipeline.Snapshot{}, err
			}
			snap.Records = append(snap.Records, rows...)
		}
	}

	return snap, nil
}

func expandCertificate(group string, cert CertificateJSON) ([]commission.CertificateSplitRecord, error) {
	if cert.ID == "" {
		return nil, fmt.Errorf("certificate with empty id in group %q", group)
	}
	if cert.EffectiveDate == "" {
		return nil, fmt.Errorf("certificate %s: missing effective_date", cert.ID)
	}
	if len(cert.Splits) == 0 {
		return nil, fmt.Errorf("certificate %s: no splits", cert.ID)
	}

	var rows []commission.CertificateSplitRecord
	for _, split := range cert.Splits {
		if len(split.Participants) == 0 {
			return nil, fmt.Errorf("certificate %s split %d: no participants", cert.ID, split.Sequence)
		}
		for _, p := range split.Participants {
			percent, err := decimal.NewFromString(p.Percent)
			if err != nil {
				return nil, fmt.Errorf("certificate %s split %d level %d: bad percent %q: %w",
					cert.ID, split.Sequence, p.Level, p.Percent, err)
			}
			rows = append(rows, commission.CertificateSplitRecord{
				CertificateID: commission.CertificateID(cert.ID),
				GroupID:       group,
				EffectiveDate: cert.EffectiveDate,
				Product:       commission.ProductCode(cert.Product),
				Plan:          cert.Plan,
				SplitSequence: split.Sequence,
				Level:         p.Level,
				Broker:        commission.BrokerID(p.Broker),
				SplitPercent:  percent,
				Schedule:      commission.ScheduleCode(p.Schedule),
				State:         cert.State,
			})
		}
	}
	return rows, nil
}

// ToJSON folds raw snapshot rows back into a BookJSON. Used to export a
// stored snapshot as an editable rehearsal book.
func ToJSON(snap pipeline.Snapshot) BookJSON {
	var book BookJSON
	for _, b := range snap.Brokers {
		book.Brokers = append(book.Brokers, BrokerJSON{
			ID:         string(b.ID),
			ExternalID: b.ExternalID,
			Name:       b.Name,
		})
	}

	type certPos struct{ group, cert int }
	groupIdx := map[string]int{}
	certIdx := map[commission.CertificateID]certPos{}
	for _, row := range snap.Records {
		gi, ok := groupIdx[row.GroupID]
		if !ok {
			book.Groups = append(book.Groups, GroupJSON{ID: row.GroupID})
			gi = len(book.Groups) - 1
			groupIdx[row.GroupID] = gi
		}

		pos, ok := certIdx[row.CertificateID]
		if !ok {
			book.Groups[gi].Certificates = append(book.Groups[gi].Certificates, CertificateJSON{
				ID:            string(row.CertificateID),
				EffectiveDate: row.EffectiveDate,
				Product:       string(row.Product),
				Plan:          row.Plan,
				State:         row.State,
			})
			pos = certPos{group: gi, cert: len(book.Groups[gi].Certificates) - 1}
			certIdx[row.CertificateID] = pos
		}
		cert := &book.Groups[pos.group].Certificates[pos.cert]

		var split *SplitJSON
		for i := range cert.Splits {
			if cert.Splits[i].Sequence == row.SplitSequence {
				split = &cert.Splits[i]
				break
			}
		}
		if split == nil {
			cert.Splits = append(cert.Splits, SplitJSON{Sequence: row.SplitSequence})
			split = &cert.Splits[len(cert.Splits)-1]
		}
		split.Participants = append(split.Participants, ParticipantJSON{
			Level:    row.Level,
			Broker:   string(row.Broker),
			Percent:  row.SplitPercent.String(),
			Schedule: string(row.Schedule),
		})
	}
	return book
}

// =============================================================================
// DEMO BOOK
// =============================================================================

// DemoBook returns a small rehearsal book that exercises every
// resolution path: exact key hits, a renewal year, shared configuration
// across certificates, direct business, and a no-group certificate.
func DemoBook() pipeline.Snapshot {
	book := BookJSON{
		Brokers: []BrokerJSON{
			{ID: "BRK-1", ExternalID: "NPN-100", Name: "Alpha Brokerage"},
			{ID: "BRK-2", ExternalID: "NPN-200", Name: "Beta Partners"},
			{ID: "BRK-3", ExternalID: "NPN-300", Name: "Gamma Group"},
		},
		Groups: []GroupJSON{
			{
				ID: "G100",
				Certificates: []CertificateJSON{
					{
						ID: "C100", EffectiveDate: "2023-02-01", Product: "A", Plan: "GOLD", State: "TX",
						Splits: []SplitJSON{{Sequence: 1, Participants: []ParticipantJSON{
							{Level: 1, Broker: "BRK-1", Percent: "70", Schedule: "STD"},
							{Level: 2, Broker: "BRK-2", Percent: "30"},
						}}},
					},
					{
						ID: "C101", EffectiveDate: "2023-03-15", Product: "A", Plan: "GOLD", State: "TX",
						Splits: []SplitJSON{{Sequence: 1, Participants: []ParticipantJSON{
							{Level: 1, Broker: "BRK-1", Percent: "70", Schedule: "STD"},
							{Level: 2, Broker: "BRK-2", Percent: "30"},
						}}},
					},
				},
			},
			{
				ID: "G200",
				Certificates: []CertificateJSON{
					{
						ID: "C200", EffectiveDate: "2022-06-01", Product: "B", State: "CA",
						Splits: []SplitJSON{{Sequence: 1, Participants: []ParticipantJSON{
							{Level: 1, Broker: "BRK-2", Percent: "60"},
							{Level: 2, Broker: "BRK-3", Percent: "40"},
						}}},
					},
					{
						ID: "C201", EffectiveDate: "2023-06-01", Product: "B", State: "CA",
						Splits: []SplitJSON{{Sequence: 1, Participants: []ParticipantJSON{
							{Level: 1, Broker: "BRK-2", Percent: "100"},
						}}},
					},
				},
			},
			{
				ID: "G300",
				Certificates: []CertificateJSON{
					{
						ID: "C300", EffectiveDate: "2023-01-01", Product: "C", Plan: "SILVER", State: "NY",
						Splits: []SplitJSON{{Sequence: 1, Participants: []ParticipantJSON{
							{Level: 1, Broker: "DIRECT", Percent: "100"},
						}}},
					},
				},
			},
			{
				ID: "",
				Certificates: []CertificateJSON{
					{
						ID: "C900", EffectiveDate: "2023-05-01", Product: "A", Plan: "GOLD", State: "TX",
						Splits: []SplitJSON{{Sequence: 1, Participants: []ParticipantJSON{
							{Level: 1, Broker: "BRK-3", Percent: "100"},
						}}},
					},
				},
			},
		},
	}

	snap, err := FromJSON(book)
	if err != nil {
		panic(fmt.Sprintf("demo book is invalid: %v", err))
	}
	return snap
}
