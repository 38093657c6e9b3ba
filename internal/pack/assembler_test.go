package pack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus"

	"prearrival/api/internal/catalog"
	"prearrival/api/internal/checklist"
	"prearrival/api/internal/metrics"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	files map[string][]byte
	fail  map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, fileURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fileURL)
	if err := f.fail[fileURL]; err != nil {
		return nil, err
	}
	data, ok := f.files[fileURL]
	if !ok {
		return nil, fmt.Errorf("not found: %s", fileURL)
	}
	return data, nil
}

type fakeUploader struct {
	name string
	data []byte
	err  error
}

func (u *fakeUploader) UploadArchive(_ context.Context, name string, data []byte) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.name = name
	u.data = data
	return "https://blobs.example.com/" + name, nil
}

var fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Definition{
		{ID: "crew", DisplayName: "Crew List", Owner: catalog.PartyShip},
		{ID: "isps", DisplayName: "ISPS Declaration", Owner: catalog.PartyShip},
		{ID: "clearance", DisplayName: "Port Clearance", Owner: catalog.PartyOffice},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

func scenarioRecords() checklist.Records {
	return checklist.Records{
		"crew":      {DefinitionID: "crew", Status: checklist.StatusApproved, FileURL: "mem://crew", FileName: "crew list.pdf"},
		"isps":      {DefinitionID: "isps", Status: checklist.StatusRejected, FileURL: "mem://isps", FileName: "isps.pdf", RejectionReason: "unsigned"},
		"clearance": {DefinitionID: "clearance", Status: checklist.StatusApproved, FileURL: "mem://clearance", FileName: "clearance.pdf"},
	}
}

func newFetcher() *fakeFetcher {
	return &fakeFetcher{files: map[string][]byte{
		"mem://crew":      []byte("crew-bytes"),
		"mem://isps":      []byte("isps-bytes"),
		"mem://clearance": []byte("clearance-bytes"),
	}}
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestBuildPacksApprovedByOwner(t *testing.T) {
	fetcher := newFetcher()
	a := &Assembler{Fetcher: fetcher, Now: func() time.Time { return fixedNow }}
	archive, err := a.Build(context.Background(), "REQ-42", testCatalog(t), scenarioRecords())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(archive.Files) != 2 {
		t.Fatalf("expected 2 files, got %+v", archive.Files)
	}
	want := []string{
		"PreArrival_Pack_REQ-42/",
		"PreArrival_Pack_REQ-42/Admin_Documents/",
		"PreArrival_Pack_REQ-42/Admin_Documents/Port_Clearance_clearance.pdf",
		"PreArrival_Pack_REQ-42/Ship_Documents/",
		"PreArrival_Pack_REQ-42/Ship_Documents/Crew_List_crew list.pdf",
	}
	got := zipNames(t, archive.Data)
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected entries:\n%s", strings.Join(got, "\n"))
	}
	for _, call := range fetcher.calls {
		if call == "mem://isps" {
			t.Fatal("rejected document was fetched")
		}
	}
	if archive.Name != "PreArrival_Pack_REQ-42.zip" || len(archive.Checksum) != 64 {
		t.Fatalf("unexpected archive metadata: %s %s", archive.Name, archive.Checksum)
	}
}

func TestBuildWithoutApprovedDocumentsDoesNotFetch(t *testing.T) {
	fetcher := newFetcher()
	a := &Assembler{Fetcher: fetcher}
	records := checklist.Records{
		"crew": {DefinitionID: "crew", Status: checklist.StatusPendingReview, FileURL: "mem://crew"},
		"isps": {DefinitionID: "isps", Status: checklist.StatusRejected, FileURL: "mem://isps", RejectionReason: "x"},
	}
	_, err := a.Build(context.Background(), "REQ-1", testCatalog(t), records)
	if !errors.Is(err, ErrNoApprovableDocuments) {
		t.Fatalf("expected ErrNoApprovableDocuments, got %v", err)
	}
	if len(fetcher.calls) != 0 {
		t.Fatalf("expected no fetches, got %v", fetcher.calls)
	}
}

func TestBuildSkipsFailedFetch(t *testing.T) {
	fetcher := newFetcher()
	fetcher.fail = map[string]error{"mem://crew": errors.New("connection reset")}
	reg := prometheus.NewRegistry()
	a := &Assembler{Fetcher: fetcher, Metrics: metrics.New(reg), Concurrency: 1}
	archive, err := a.Build(context.Background(), "REQ-7", testCatalog(t), scenarioRecords())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(archive.Files) != 1 || archive.Files[0].DefinitionID != "clearance" {
		t.Fatalf("unexpected files: %+v", archive.Files)
	}
	if len(archive.Skipped) != 1 || archive.Skipped[0].DefinitionID != "crew" {
		t.Fatalf("unexpected skipped: %+v", archive.Skipped)
	}
	names := zipNames(t, archive.Data)
	if !contains(names, "PreArrival_Pack_REQ-7/Ship_Documents/") {
		t.Fatalf("ship folder missing when empty: %v", names)
	}
}

func TestBuildIsDeterministicForSameSnapshot(t *testing.T) {
	a := &Assembler{Fetcher: newFetcher(), Now: func() time.Time { return fixedNow }}
	first, err := a.Build(context.Background(), "REQ-9", testCatalog(t), scenarioRecords())
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := a.Build(context.Background(), "REQ-9", testCatalog(t), scenarioRecords())
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if strings.Join(zipNames(t, first.Data), ",") != strings.Join(zipNames(t, second.Data), ",") {
		t.Fatal("file sets differ between identical snapshots")
	}
	if first.Checksum != second.Checksum {
		t.Fatalf("checksum differs: %s vs %s", first.Checksum, second.Checksum)
	}
}

func TestBuildDeduplicatesCollidingNames(t *testing.T) {
	cat, err := catalog.New([]catalog.Definition{
		{ID: "a", DisplayName: "Crew List", Owner: catalog.PartyShip},
		{ID: "b", DisplayName: "Crew/List", Owner: catalog.PartyShip},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	records := checklist.Records{
		"a": {DefinitionID: "a", Status: checklist.StatusApproved, FileURL: "mem://crew", FileName: "list.pdf"},
		"b": {DefinitionID: "b", Status: checklist.StatusApproved, FileURL: "mem://isps", FileName: "list.pdf"},
	}
	archive, err := (&Assembler{Fetcher: newFetcher()}).Build(context.Background(), "R", cat, records)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if archive.Files[0].Path == archive.Files[1].Path {
		t.Fatalf("paths collide: %+v", archive.Files)
	}
}

func TestBuildStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Assembler{Fetcher: newFetcher()}).Build(ctx, "R", testCatalog(t), scenarioRecords())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path == "/big" {
			_, _ = io.WriteString(w, strings.Repeat("x", 20))
			return
		}
		_, _ = io.WriteString(w, "payload")
	}))
	defer srv.Close()

	f := HTTPFetcher{Header: http.Header{"Authorization": {"Bearer t"}}, MaxBytes: 10}
	data, err := f.Fetch(context.Background(), srv.URL+"/doc")
	if err != nil || string(data) != "payload" {
		t.Fatalf("Fetch() = %q, %v", data, err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/big"); err == nil {
		t.Fatal("expected oversize body to fail")
	}
	if _, err := (HTTPFetcher{}).Fetch(context.Background(), srv.URL+"/doc"); err == nil {
		t.Fatal("expected unauthorized fetch to fail")
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func TestFingerprintIgnoresBuildTime(t *testing.T) {
	clock := fixedNow
	a := &Assembler{Fetcher: newFetcher(), Now: func() time.Time { return clock }}
	first, err := a.Build(context.Background(), "REQ-9", testCatalog(t), scenarioRecords())
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	clock = fixedNow.Add(time.Hour)
	second, err := a.Build(context.Background(), "REQ-9", testCatalog(t), scenarioRecords())
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if first.Fingerprint != second.Fingerprint {
		t.Fatal("fingerprint changed with build time")
	}
	records := scenarioRecords()
	rec := records["isps"]
	rec.Status = checklist.StatusApproved
	rec.RejectionReason = ""
	third, err := a.Build(context.Background(), "REQ-9", testCatalog(t), records.With(rec))
	if err != nil {
		t.Fatalf("third build: %v", err)
	}
	if third.Fingerprint == first.Fingerprint {
		t.Fatal("fingerprint did not change with content")
	}
}
