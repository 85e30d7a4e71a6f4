package pipeline

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/clinical-timeline/internal/model"
	"github.com/sells-group/clinical-timeline/internal/temporal"
)

// Document is one clinical note with the candidate mentions and extracted
// fields each extraction path produced for it.
type Document struct {
	ID             string
	Text           string
	ReferenceDates model.ReferenceDateSet
	Pattern        SourceBlock
	LLM            SourceBlock
}

// SourceBlock is the output of one extraction path for a document.
type SourceBlock struct {
	Mentions []model.CandidateMention   `json:"mentions"`
	Fields   map[string]model.FieldValue `json:"fields,omitempty"`
}

// Block returns the source block for origin.
func (d Document) Block(origin model.OriginSource) SourceBlock {
	if origin == model.OriginLLM {
		return d.LLM
	}
	return d.Pattern
}

// documentJSON is the on-disk layout. Reference dates are plain date
// strings ("2024-10-01" or "10/01/2024").
type documentJSON struct {
	ID             string      `json:"id"`
	Text           string      `json:"text"`
	ReferenceDates refDateJSON `json:"reference_dates"`
	Pattern        SourceBlock `json:"pattern"`
	LLM            SourceBlock `json:"llm"`
}

type refDateJSON struct {
	Ictus              string   `json:"ictus,omitempty"`
	Admission          string   `json:"admission,omitempty"`
	Discharge          string   `json:"discharge,omitempty"`
	FirstProcedureDate string   `json:"first_procedure_date,omitempty"`
	AllProcedureDates  []string `json:"all_procedure_dates,omitempty"`
}

// DecodeDocument reads a JSON document from r.
func DecodeDocument(r io.Reader) (Document, error) {
	var raw documentJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Document{}, eris.Wrap(err, "pipeline: decode document")
	}

	doc := Document{
		ID:      raw.ID,
		Text:    raw.Text,
		Pattern: raw.Pattern,
		LLM:     raw.LLM,
	}

	var err error
	rd := raw.ReferenceDates
	if doc.ReferenceDates.Ictus, err = parseRefDate("ictus", rd.Ictus); err != nil {
		return Document{}, err
	}
	if doc.ReferenceDates.Admission, err = parseRefDate("admission", rd.Admission); err != nil {
		return Document{}, err
	}
	if doc.ReferenceDates.Discharge, err = parseRefDate("discharge", rd.Discharge); err != nil {
		return Document{}, err
	}
	if doc.ReferenceDates.FirstProcedureDate, err = parseRefDate("first_procedure_date", rd.FirstProcedureDate); err != nil {
		return Document{}, err
	}
	for _, s := range rd.AllProcedureDates {
		d, err := parseRefDate("all_procedure_dates", s)
		if err != nil {
			return Document{}, err
		}
		if d != nil {
			doc.ReferenceDates.AllProcedureDates = append(doc.ReferenceDates.AllProcedureDates, *d)
		}
	}
	return doc, nil
}

// LoadDocument reads a JSON document from path. A document without an id
// takes the file path as its id.
func LoadDocument(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, eris.Wrapf(err, "pipeline: open document %s", path)
	}
	defer f.Close()

	doc, err := DecodeDocument(f)
	if err != nil {
		return Document{}, eris.Wrapf(err, "pipeline: load document %s", path)
	}
	if doc.ID == "" {
		doc.ID = path
	}
	return doc, nil
}

func parseRefDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d := temporal.ParseDate(s, 0)
	if d == nil {
		return nil, eris.Errorf("pipeline: invalid %s date %q", field, s)
	}
	return d, nil
}
