// Package store persists the four account buckets (users, tokens, mobiles,
// auths) as one JSON document on disk, rewritten wholesale on every mutation.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
)

type document struct {
	// Users maps a chat-user id to an ordered list of vendor account ids.
	Users map[string][]string `json:"users"`
	// Tokens maps a vendor account id to its current session token.
	Tokens map[string]string `json:"tokens"`
	// Mobiles maps a vendor account id to its phone number.
	Mobiles map[string]string `json:"mobiles"`
	// Auths maps a vendor account id to a YYYY-MM-DD expiry date.
	Auths map[string]string `json:"auths"`
}

type Store struct {
	mu   sync.Mutex
	path string
	doc  document
}

// Open loads the document at path, starting empty when the file is missing
// or empty. A present-but-corrupt file is an error so bad data is never
// silently overwritten.
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: emptyDocument()}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := sonic.Unmarshal(raw, &s.doc); err != nil {
		return nil, fmt.Errorf("decode data file %s: %w", path, err)
	}
	fillBuckets(&s.doc)
	return s, nil
}

func emptyDocument() document {
	return document{
		Users:   map[string][]string{},
		Tokens:  map[string]string{},
		Mobiles: map[string]string{},
		Auths:   map[string]string{},
	}
}

func fillBuckets(d *document) {
	if d.Users == nil {
		d.Users = map[string][]string{}
	}
	if d.Tokens == nil {
		d.Tokens = map[string]string{}
	}
	if d.Mobiles == nil {
		d.Mobiles = map[string]string{}
	}
	if d.Auths == nil {
		d.Auths = map[string]string{}
	}
}

// save serializes the whole document synchronously. Temp-file + rename keeps
// a crashed write from truncating the previous document.
func (s *Store) save() error {
	raw, err := sonic.MarshalIndent(s.doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encode data file: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write data file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace data file: %w", err)
	}
	return nil
}

// Accounts returns the user's account ids, deduplicated in first-seen order.
func (s *Store) Accounts(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dedup(s.doc.Users[userID])
}

// SetAccounts stores the user's account list, deduplicated; an empty list
// removes the user entry entirely.
func (s *Store) SetAccounts(userID string, accounts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts = dedup(accounts)
	if len(accounts) == 0 {
		delete(s.doc.Users, userID)
	} else {
		s.doc.Users[userID] = accounts
	}
	return s.save()
}

// UserIDs lists every chat-user id with at least one stored account.
func (s *Store) UserIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.doc.Users))
	for id := range s.doc.Users {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) Token(accountID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.doc.Tokens[accountID]
	return v, ok
}

func (s *Store) SetToken(accountID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Tokens[accountID] = token
	return s.save()
}

func (s *Store) DeleteToken(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Tokens, accountID)
	return s.save()
}

func (s *Store) Mobile(accountID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.doc.Mobiles[accountID]
	return v, ok
}

func (s *Store) SetMobile(accountID, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Mobiles[accountID] = phone
	return s.save()
}

func (s *Store) DeleteMobile(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Mobiles, accountID)
	return s.save()
}

func (s *Store) Auth(accountID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.doc.Auths[accountID]
	return v, ok
}

func (s *Store) SetAuth(accountID, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Auths[accountID] = date
	return s.save()
}

func (s *Store) DeleteAuth(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Auths, accountID)
	return s.save()
}

func dedup(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
