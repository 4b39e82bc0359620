package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ParseSnapshot decodes and validates a knowledge document. A usable
// document has a main prompt; FAQ answers and function parameters must be
// valid JSON.
func ParseSnapshot(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("knowledge: decode snapshot: %w", err)
	}
	if strings.TrimSpace(snap.Prompts[PromptMain]) == "" {
		return nil, fmt.Errorf("knowledge: snapshot is missing the %q prompt", PromptMain)
	}
	for _, e := range snap.FAQEntries {
		if strings.TrimSpace(e.Question) == "" {
			return nil, errors.New("knowledge: faq entry without a question")
		}
		if !json.Valid(e.Answer) {
			return nil, fmt.Errorf("knowledge: faq %q has an invalid answer", e.Question)
		}
	}
	for _, f := range snap.FunctionDefs {
		if strings.TrimSpace(f.Name) == "" {
			return nil, errors.New("knowledge: function without a name")
		}
		if len(f.Parameters) > 0 && !json.Valid(f.Parameters) {
			return nil, fmt.Errorf("knowledge: function %q has invalid parameters", f.Name)
		}
	}
	return &snap, nil
}

// SeedPostgres replaces the contents of the knowledge tables with snap in a
// single transaction. FAQ order follows the document.
func SeedPostgres(ctx context.Context, db txBeginner, snap *Snapshot) error {
	if snap == nil {
		return errors.New("knowledge: snapshot is required")
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("knowledge: begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range []string{"knowledge_prompts", "knowledge_messages", "knowledge_faq", "knowledge_functions"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("knowledge: clear %s: %w", table, err)
		}
	}
	for _, kind := range orderedKinds(snap.Prompts) {
		if _, err := tx.Exec(ctx, `INSERT INTO knowledge_prompts (prompt_type, content) VALUES ($1, $2)`,
			kind, snap.Prompts[kind]); err != nil {
			return fmt.Errorf("knowledge: insert prompt %q: %w", kind, err)
		}
	}
	for _, kind := range orderedKinds(snap.Messages) {
		if _, err := tx.Exec(ctx, `INSERT INTO knowledge_messages (message_type, content) VALUES ($1, $2)`,
			kind, snap.Messages[kind]); err != nil {
			return fmt.Errorf("knowledge: insert message %q: %w", kind, err)
		}
	}
	for i, e := range snap.FAQEntries {
		if _, err := tx.Exec(ctx, `INSERT INTO knowledge_faq (question, answer, position) VALUES ($1, $2, $3)`,
			e.Question, []byte(e.Answer), i); err != nil {
			return fmt.Errorf("knowledge: insert faq %q: %w", e.Question, err)
		}
	}
	for _, f := range snap.FunctionDefs {
		params := []byte(schemaOrDefault(f.Parameters))
		if _, err := tx.Exec(ctx, `INSERT INTO knowledge_functions (name, description, parameters) VALUES ($1, $2, $3)`,
			f.Name, f.Description, params); err != nil {
			return fmt.Errorf("knowledge: insert function %q: %w", f.Name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("knowledge: commit seed: %w", err)
	}
	return nil
}

func schemaOrDefault(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage(`{}`)
	}
	return raw
}

func orderedKinds(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
