package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEvent  = "diasync/event/v1"
	DomainObject = "diasync/object/v1"
	DomainLedger = "diasync/ledger/v1" // coordination + governance rows
)

// HashPrefix identifies the hash family in rendered hashes.
const HashPrefix = "sha256:"

// hashWithDomain computes SHA-256 with domain separation.
// Format: "sha256:" + hex(SHA256(domain + 0x00 + data))
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return HashPrefix + hex.EncodeToString(h.Sum(nil))
}

// HashRecord computes the content hash of a record under a domain,
// excluding the named fields from the hashed serialization.
//
// Excluded fields are removed entirely (not zeroed) so that recomputing a
// stored line's hash and computing a fresh record's hash walk the same
// bytes. The record hash of every persisted line excludes "hash"; an
// event's idempotency key additionally excludes "idempotency_key" and
// "event_id".
func HashRecord(domain string, v any, exclude ...string) (string, error) {
	fields, err := DecodeFields(v)
	if err != nil {
		return "", err
	}
	for _, name := range exclude {
		delete(fields, name)
	}
	canonical, err := CanonicalBytes(fields)
	if err != nil {
		return "", err
	}
	return hashWithDomain(domain, canonical), nil
}

// EventHash computes an event's content hash (all fields except hash).
func EventHash(ev Event) (string, error) {
	return HashRecord(DomainEvent, ev, "hash")
}

// IdempotencyKey computes an event's idempotency key: a deterministic
// function of producer identity + logical content. Re-submitting the same
// logical write twice yields the same key regardless of the fresh event id.
func IdempotencyKey(ev Event) (string, error) {
	return HashRecord(DomainEvent, ev, "idempotency_key", "hash", "event_id")
}

// ObjectHash computes a view object's content hash (all fields except hash).
func ObjectHash(obj Object) (string, error) {
	return HashRecord(DomainObject, obj, "hash")
}

// LedgerHash computes the content hash of a coordination or governance row.
func LedgerHash(v any) (string, error) {
	return HashRecord(DomainLedger, v, "hash")
}

// VerifyLine recomputes the hash of a decoded ledger line and compares it
// to the stored "hash" field. The domain is selected by the line's schema
// tag. Returns false (with no error) when the hashes differ; the caller
// decides whether that is an integrity failure or a skip.
func VerifyLine(fields map[string]any) (bool, error) {
	stored, _ := fields["hash"].(string)
	if stored == "" {
		return false, fmt.Errorf("record: line has no hash field")
	}
	schema, _ := fields["schema"].(string)
	domain := DomainLedger
	switch schema {
	case SchemaEvent:
		domain = DomainEvent
	case SchemaObject:
		domain = DomainObject
	}
	recomputed, err := HashRecord(domain, fields, "hash")
	if err != nil {
		return false, err
	}
	return recomputed == stored, nil
}

// IsHash reports whether s looks like a rendered content hash.
func IsHash(s string) bool {
	if !strings.HasPrefix(s, HashPrefix) {
		return false
	}
	hexPart := s[len(HashPrefix):]
	if len(hexPart) != 64 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}

// MustEventHash is like EventHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEventHash(ev Event) string {
	h, err := EventHash(ev)
	if err != nil {
		panic(err)
	}
	return h
}

// MustObjectHash is like ObjectHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustObjectHash(obj Object) string {
	h, err := ObjectHash(obj)
	if err != nil {
		panic(err)
	}
	return h
}

// MustLedgerHash is like LedgerHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustLedgerHash(v any) string {
	h, err := LedgerHash(v)
	if err != nil {
		panic(err)
	}
	return h
}
