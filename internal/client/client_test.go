package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"prearrival/api/internal/checklist"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL, "tok", server.Client())
}

func TestGetRequestSendsTokenAndQuery(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token: %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/api/requests/REQ-42" || r.URL.Query().Get("status") != "approved" || r.URL.Query().Get("readOnly") != "true" {
			t.Errorf("unexpected url %s", r.URL.String())
		}
		_, _ = io.WriteString(w, `{"request":{"id":"REQ-42","vesselName":"MV Nordic Star"},"documents":[{"definition":{"id":"crew","name":"Crew List","owner":"ship"},"record":{"docId":"crew","status":"approved","log":[]},"access":{"canView":true}}],"readOnly":true}`)
	})

	view, err := c.GetRequest(context.Background(), "REQ-42", true, "approved")
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	if view.Request.VesselName != "MV Nordic Star" || !view.ReadOnly {
		t.Fatalf("unexpected view: %+v", view)
	}
	if got := view.Records().Get("crew").Status; got != checklist.StatusApproved {
		t.Fatalf("expected approved crew record, got %s", got)
	}
	if def, ok := view.Definition("crew"); !ok || def.DisplayName != "Crew List" {
		t.Fatalf("Definition() = %+v, %v", def, ok)
	}
}

func TestUploadSendsMultipart(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/requests/REQ-42/documents" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		data, _ := io.ReadAll(file)
		if r.FormValue("docId") != "crew" || r.FormValue("note") != "scan" || header.Filename != "crew.pdf" || string(data) != "%PDF" {
			t.Errorf("unexpected form %v %s %q", r.MultipartForm.Value, header.Filename, data)
		}
		_, _ = io.WriteString(w, `{"record":{"docId":"crew","status":"pending_review","fileName":"crew.pdf","log":[]}}`)
	})

	rec, err := c.Upload(context.Background(), "REQ-42", "crew", "scan", "crew.pdf", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if rec.Status != checklist.StatusPendingReview {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"code":"VALIDATION_ERROR","error":"a rejection reason is required","details":{"field":"reason"}}`)
	})

	_, err := c.Verify(context.Background(), "REQ-42", "crew", checklist.StatusRejected, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Code != "VALIDATION_ERROR" || apiErr.Details["field"] != "reason" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestDownloadPack(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="PreArrival_Pack_REQ-42.zip"`)
		w.Header().Set("X-Pack-Checksum", "abc")
		w.Header().Set("X-Pack-Files", "2")
		w.Header().Set("X-Pack-Skipped", "1")
		_, _ = io.WriteString(w, "PK")
	})

	p, err := c.DownloadPack(context.Background(), "REQ-42")
	if err != nil {
		t.Fatalf("DownloadPack() error = %v", err)
	}
	if p.Name != "PreArrival_Pack_REQ-42.zip" || p.Checksum != "abc" || p.Files != 2 || p.Skipped != 1 || string(p.Data) != "PK" {
		t.Fatalf("unexpected pack: %+v", p)
	}
}

func TestEmptyPackWarningBecomesError(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"warning":"NO_APPROVED_DOCUMENTS","message":"No approved documents to include in the pack"}`)
	})

	if _, err := c.DownloadPack(context.Background(), "REQ-42"); !errors.Is(err, ErrNoApprovedDocuments) {
		t.Fatalf("DownloadPack: expected ErrNoApprovedDocuments, got %v", err)
	}
	if _, err := c.Share(context.Background(), "REQ-42", nil); !errors.Is(err, ErrNoApprovedDocuments) {
		t.Fatalf("Share: expected ErrNoApprovedDocuments, got %v", err)
	}
}

func TestShareSendsRecipients(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			EmailTo []string `json:"emailTo"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.EmailTo) != 1 {
			t.Errorf("unexpected body %+v %v", body, err)
		}
		_, _ = io.WriteString(w, `{"url":"https://blobs.test/a.zip","files":2,"cached":true,"emailed":["agent@example.com"]}`)
	})

	res, err := c.Share(context.Background(), "REQ-42", []string{"agent@example.com"})
	if err != nil {
		t.Fatalf("Share() error = %v", err)
	}
	if res.URL != "https://blobs.test/a.zip" || res.Files != 2 || !res.Cached || len(res.Emailed) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestUploadArchiveAndFetcher(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/archive-upload":
			data, _ := io.ReadAll(r.Body)
			if r.URL.Query().Get("name") != "PreArrival_REQ-42_1.zip" || string(data) != "PK" {
				t.Errorf("unexpected upload %s %q", r.URL.String(), data)
			}
			_, _ = io.WriteString(w, `{"url":"https://blobs.test/archives/PreArrival_REQ-42_1.zip"}`)
		case "/api/files/requests/REQ-42/crew/a.pdf":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, "crew")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	link, err := c.UploadArchive(context.Background(), "PreArrival_REQ-42_1.zip", []byte("PK"))
	if err != nil || !strings.HasSuffix(link, "PreArrival_REQ-42_1.zip") {
		t.Fatalf("UploadArchive() = %q, %v", link, err)
	}
	data, err := c.Fetcher(1<<20).Fetch(context.Background(), c.baseURL+"/api/files/requests/REQ-42/crew/a.pdf")
	if err != nil || string(data) != "crew" {
		t.Fatalf("Fetch() = %q, %v", data, err)
	}
}
