// Package pack bundles the approved documents of a port-call request into a
// folder-organised ZIP archive and publishes it as a shareable link.
package pack

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"prearrival/api/internal/catalog"
	"prearrival/api/internal/checklist"
	"prearrival/api/internal/metrics"
)

const (
	ShipFolder  = "Ship_Documents"
	AdminFolder = "Admin_Documents"
)

// ErrNoApprovableDocuments means no record is both filed and approved. It is
// a warning for the caller, not a failure of the assembler.
var ErrNoApprovableDocuments = errors.New("no approved documents to package")

// Entry is one file written into the archive.
type Entry struct {
	Path         string        `json:"path"`
	DefinitionID string        `json:"docId"`
	Owner        catalog.Party `json:"owner"`
	Size         int           `json:"size"`
}

// Skip is a qualifying record whose bytes could not be fetched.
type Skip struct {
	DefinitionID string `json:"docId"`
	FileURL      string `json:"fileUrl"`
	Reason       string `json:"reason"`
}

type Archive struct {
	Name     string  `json:"name"`
	Root     string  `json:"root"`
	Data     []byte  `json:"-"`
	Files    []Entry `json:"files"`
	Skipped  []Skip  `json:"skipped"`
	Checksum string  `json:"checksum"`

	// Fingerprint identifies the packed content independent of build time.
	Fingerprint string    `json:"fingerprint"`
	BuiltAt     time.Time `json:"builtAt"`
}

type Assembler struct {
	Fetcher  Fetcher
	Uploader Uploader
	Now      func() time.Time
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	// Concurrency caps parallel fetches; zero or less means one goroutine per file.
	Concurrency int
	// FetchTimeout bounds each fetch; zero means only ctx applies.
	FetchTimeout time.Duration
}

func (a *Assembler) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

// RootFolder is the top-level directory inside every archive.
func RootFolder(requestID string) string {
	return "PreArrival_Pack_" + PathSafe(requestID)
}

func folderFor(owner catalog.Party) string {
	if owner == catalog.PartyOffice {
		return AdminFolder
	}
	return ShipFolder
}

type candidate struct {
	def    catalog.Definition
	record checklist.Record
}

// Qualifying returns the catalog definitions whose records are filed and
// approved, in catalog order.
func Qualifying(cat *catalog.Catalog, records checklist.Records) []catalog.Definition {
	var out []catalog.Definition
	for _, def := range cat.All() {
		rec := records.Get(def.ID)
		if rec.HasFile() && rec.Status == checklist.StatusApproved {
			out = append(out, def)
		}
	}
	return out
}

// Build snapshots records, fetches every approved file and serialises the
// result. A fetch failure skips that file; the archive is still produced.
func (a *Assembler) Build(ctx context.Context, requestID string, cat *catalog.Catalog, records checklist.Records) (Archive, error) {
	started := time.Now()
	log := a.Logger.With().Str("request_id", requestID).Logger()

	var candidates []candidate
	for _, def := range Qualifying(cat, records) {
		candidates = append(candidates, candidate{def: def, record: records.Get(def.ID).Clone()})
	}
	if len(candidates) == 0 {
		a.Metrics.RecordPackBuild("empty", 0, 0, 0, time.Since(started))
		return Archive{}, ErrNoApprovableDocuments
	}
	if a.Fetcher == nil {
		return Archive{}, errors.New("pack: no fetcher configured")
	}

	payloads := make([][]byte, len(candidates))
	failures := make([]error, len(candidates))
	var g errgroup.Group
	if a.Concurrency > 0 {
		g.SetLimit(a.Concurrency)
	}
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			fetchCtx := ctx
			if a.FetchTimeout > 0 {
				var cancel context.CancelFunc
				fetchCtx, cancel = context.WithTimeout(ctx, a.FetchTimeout)
				defer cancel()
			}
			data, err := a.Fetcher.Fetch(fetchCtx, c.record.FileURL)
			if err != nil {
				failures[i] = err
				return nil
			}
			payloads[i] = data
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		a.Metrics.RecordPackBuild("error", 0, 0, 0, time.Since(started))
		return Archive{}, fmt.Errorf("build pack: %w", err)
	}

	builtAt := a.now()
	root := RootFolder(requestID)
	archive := Archive{
		Name:    root + ".zip",
		Root:    root,
		Files:   []Entry{},
		Skipped: []Skip{},
		BuiltAt: builtAt,
	}
	files := map[string][]byte{}
	used := map[string]bool{}
	for i, c := range candidates {
		if failures[i] != nil {
			log.Warn().Err(failures[i]).Str("doc_id", c.def.ID).Str("file_url", c.record.FileURL).Msg("skipping document, fetch failed")
			archive.Skipped = append(archive.Skipped, Skip{DefinitionID: c.def.ID, FileURL: c.record.FileURL, Reason: failures[i].Error()})
			continue
		}
		name := Sanitize(c.def.DisplayName) + "_" + cleanFileName(fileNameOf(c.record))
		p := uniquePath(used, path.Join(root, folderFor(c.def.Owner), name))
		files[p] = payloads[i]
		archive.Files = append(archive.Files, Entry{Path: p, DefinitionID: c.def.ID, Owner: c.def.Owner, Size: len(payloads[i])})
	}
	sort.Slice(archive.Files, func(i, j int) bool { return archive.Files[i].Path < archive.Files[j].Path })

	data, err := writeZip(root, archive.Files, files, builtAt)
	if err != nil {
		a.Metrics.RecordPackBuild("error", 0, len(archive.Skipped), 0, time.Since(started))
		return Archive{}, err
	}
	sum := blake3.Sum256(data)
	archive.Data = data
	archive.Checksum = hex.EncodeToString(sum[:])
	archive.Fingerprint = fingerprint(archive.Files, files)

	a.Metrics.RecordPackBuild("ok", len(archive.Files), len(archive.Skipped), len(data), time.Since(started))
	log.Info().
		Int("files", len(archive.Files)).
		Int("skipped", len(archive.Skipped)).
		Int("bytes", len(data)).
		Str("checksum", archive.Checksum).
		Msg("pack assembled")
	return archive, nil
}

func fingerprint(entries []Entry, files map[string][]byte) string {
	h := blake3.New()
	for _, entry := range entries {
		sum := blake3.Sum256(files[entry.Path])
		_, _ = h.Write([]byte(entry.Path))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func fileNameOf(rec checklist.Record) string {
	if strings.TrimSpace(rec.FileName) != "" {
		return rec.FileName
	}
	return path.Base(strings.SplitN(rec.FileURL, "?", 2)[0])
}

func uniquePath(used map[string]bool, p string) string {
	candidate := p
	ext := path.Ext(p)
	base := strings.TrimSuffix(p, ext)
	for n := 2; used[candidate]; n++ {
		candidate = base + "_" + strconv.Itoa(n) + ext
	}
	used[candidate] = true
	return candidate
}

// writeZip emits both owner folders even when one is empty so the layout is
// always the same.
func writeZip(root string, entries []Entry, files map[string][]byte, modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, dir := range []string{root + "/", path.Join(root, AdminFolder) + "/", path.Join(root, ShipFolder) + "/"} {
		if _, err := zw.CreateHeader(&zip.FileHeader{Name: dir, Method: zip.Store, Modified: modified}); err != nil {
			return nil, fmt.Errorf("write folder %s: %w", dir, err)
		}
	}
	for _, entry := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: entry.Path, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", entry.Path, err)
		}
		if _, err := w.Write(files[entry.Path]); err != nil {
			return nil, fmt.Errorf("write %s: %w", entry.Path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}
