package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/clinical-timeline/internal/model"
	"github.com/sells-group/clinical-timeline/internal/store"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			DocumentID: "note-17",
			Result: &model.RunResult{
				Timeline: model.Timeline{Metadata: model.TimelineMetadata{
					TotalEvents:  7,
					Completeness: model.Completeness{Score: 85.714, WithDates: 6, Total: 7},
				}},
				Warnings: []string{"discharge 2024-10-02 is before admission 2024-10-10"},
			},
			CreatedAt: now,
		},
		{
			ID:         "def12345-6789-0000-0000-000000000000",
			DocumentID: "a-very-long-document-identifier-from-upstream",
			CreatedAt:  now.Add(-1 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "DOCUMENT")
	assert.Contains(t, output, "COMPLETENESS")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "note-17")
	assert.Contains(t, output, "85.7%")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "a-very-long-document-identi...")
}

func TestFormatEvents(t *testing.T) {
	d := model.Day(2024, time.October, 1)
	events := []store.EventRecord{
		{Position: 0, EntityType: model.EntityProcedure, CanonicalName: "coiling", Date: &d, DateSource: model.DateExplicit, Confidence: 0.9},
		{Position: 1, EntityType: model.EntityComplication, CanonicalName: "vasospasm", Date: model.AddDays(d, 5), DateSource: model.DateInferred, Confidence: 0.7, Inferred: true, Relation: model.RelationDaysLater},
		{Position: 2, EntityType: model.EntityMedication, CanonicalName: "nimodipine", DateSource: model.DateUnresolved, Confidence: 0.6},
	}

	var buf bytes.Buffer
	formatEvents(&buf, events)

	output := buf.String()
	assert.Contains(t, output, "2024-10-01")
	assert.Contains(t, output, "2024-10-06")
	assert.Contains(t, output, "inferred*")
	assert.Contains(t, output, "days later")
	assert.Contains(t, output, "nodate")
	assert.Contains(t, output, "0.90")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
