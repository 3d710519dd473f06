package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/simdb-io/simdb/pkg/core"
)

// PutVocabulary registers a controlled vocabulary, or extends an
// existing one with any words it does not already hold.
func (s *Store) PutVocabulary(ctx context.Context, vocab core.Vocabulary) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.exec(ctx,
		`INSERT INTO vocabularies (name) VALUES (?) ON CONFLICT (name) DO NOTHING`,
		vocab.Name,
	); err != nil {
		return fmt.Errorf("failed to register vocabulary %q: %w", vocab.Name, err)
	}
	for _, word := range vocab.Words {
		if _, err := tx.exec(ctx,
			`INSERT INTO vocabulary_words (vocabulary, value) VALUES (?, ?)
			 ON CONFLICT (vocabulary, value) DO NOTHING`,
			vocab.Name, word,
		); err != nil {
			return fmt.Errorf("failed to add word %q to vocabulary %q: %w", word, vocab.Name, err)
		}
	}
	return tx.Commit()
}

// ReplaceVocabularyWords swaps a vocabulary's permitted words for a
// new set. The vocabulary must already be registered.
func (s *Store) ReplaceVocabularyWords(ctx context.Context, name string, words []string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var found string
	err = tx.queryRow(ctx, `SELECT name FROM vocabularies WHERE name = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: vocabulary %q", core.ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("failed to look up vocabulary: %w", err)
	}

	if _, err := tx.exec(ctx, `DELETE FROM vocabulary_words WHERE vocabulary = ?`, name); err != nil {
		return fmt.Errorf("failed to clear vocabulary %q: %w", name, err)
	}
	for _, word := range words {
		if _, err := tx.exec(ctx,
			`INSERT INTO vocabulary_words (vocabulary, value) VALUES (?, ?)`,
			name, word,
		); err != nil {
			return fmt.Errorf("failed to add word %q to vocabulary %q: %w", word, name, err)
		}
	}
	return tx.Commit()
}

// DeleteVocabulary removes a vocabulary and its words, lifting the
// constraint from the key entirely.
func (s *Store) DeleteVocabulary(ctx context.Context, name string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The CASCADE covers PostgreSQL; SQLite only honors it when
	// foreign keys are on, so delete the words explicitly.
	if _, err := tx.exec(ctx, `DELETE FROM vocabulary_words WHERE vocabulary = ?`, name); err != nil {
		return fmt.Errorf("failed to delete vocabulary words: %w", err)
	}
	res, err := tx.exec(ctx, `DELETE FROM vocabularies WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete vocabulary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: vocabulary %q", core.ErrNotFound, name)
	}
	return tx.Commit()
}

// GetVocabulary loads one vocabulary with its permitted words.
func (s *Store) GetVocabulary(ctx context.Context, name string) (*core.Vocabulary, error) {
	var found string
	err := s.queryRow(ctx, `SELECT name FROM vocabularies WHERE name = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: vocabulary %q", core.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up vocabulary: %w", err)
	}

	rows, err := s.query(ctx,
		`SELECT value FROM vocabulary_words WHERE vocabulary = ? ORDER BY value`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load vocabulary words: %w", err)
	}
	defer rows.Close()

	vocab := &core.Vocabulary{Name: name}
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("failed to scan vocabulary word: %w", err)
		}
		vocab.Words = append(vocab.Words, w)
	}
	return vocab, rows.Err()
}

// ListVocabularies returns every registered vocabulary with its words.
func (s *Store) ListVocabularies(ctx context.Context) ([]core.Vocabulary, error) {
	rows, err := s.query(ctx, `SELECT name FROM vocabularies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vocabularies: %w", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan vocabulary name: %w", err)
		}
		names = append(names, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vocabs := make([]core.Vocabulary, 0, len(names))
	for _, n := range names {
		v, err := s.GetVocabulary(ctx, n)
		if err != nil {
			return nil, err
		}
		vocabs = append(vocabs, *v)
	}
	return vocabs, nil
}
