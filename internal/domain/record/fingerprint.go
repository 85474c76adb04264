package record

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Snapshot is a key-value projection of a record's clinically relevant
// fields. Volatile storage fields (created_at, updated_at) and display-only
// derived values are never part of a snapshot.
type Snapshot map[string]string

// Fingerprint hashes a snapshot into a fixed-length content hash. Keys are
// sorted before hashing so the result is insensitive to the order in which
// the projection was assembled.
func Fingerprint(kind Kind, snap Snapshot) (string, error) {
	if !kind.Valid() {
		return "", ErrInvalidKind
	}

	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(string(kind)))
	h.Write([]byte{0})
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(snap[k]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func snapTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Snapshot projects the anamnesis fields bound by a signature.
func (a *Anamnesis) Snapshot() Snapshot {
	return Snapshot{
		"patient_id":    a.PatientID.String(),
		"patient_name":  a.PatientName,
		"template_name": a.TemplateName,
		"answers":       string(a.Answers),
		"filled_at":     snapTime(a.FilledAt),
	}
}

// Snapshot projects the procedure fields bound by a signature.
func (p *Procedure) Snapshot() Snapshot {
	tooth := ""
	if p.ToothCodes != nil {
		tooth = *p.ToothCodes
	}
	return Snapshot{
		"patient_id":   p.PatientID.String(),
		"patient_name": p.PatientName,
		"tooth_codes":  tooth,
		"description":  p.Description,
		"dentist_name": p.DentistName,
		"performed_at": snapTime(p.PerformedAt),
	}
}

// Snapshot projects the exam fields bound by a signature.
func (e *Exam) Snapshot() Snapshot {
	kind := ""
	if e.FileKind != nil {
		kind = *e.FileKind
	}
	return Snapshot{
		"patient_id":   e.PatientID.String(),
		"patient_name": e.PatientName,
		"ordered_at":   snapTime(e.OrderedAt),
		"file_kind":    kind,
		"file_urls":    strings.Join(e.FileURLs, ","),
	}
}
