package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"prearrival/api/internal/auth"
	"prearrival/api/internal/blobstore"
	"prearrival/api/internal/catalog"
	"prearrival/api/internal/checklist"
	"prearrival/api/internal/config"
	"prearrival/api/internal/email"
	"prearrival/api/internal/export"
	"prearrival/api/internal/metrics"
	"prearrival/api/internal/pack"
	"prearrival/api/internal/rbac"
	"prearrival/api/internal/search"
	"prearrival/api/internal/sharecache"
	"prearrival/api/internal/store"
)

// MaxArchiveBytes bounds archives accepted by UploadArchive.
const MaxArchiveBytes = 64 << 20

type Session struct {
	UserID    string
	UserName  string
	Email     string
	Caps      rbac.Capabilities
	Party     catalog.Party
	ExpiresAt time.Time
}

type DataStore interface {
	Ping(context.Context) error
	GetRequest(context.Context, string) (store.PortCallRequest, error)
	LoadRecords(context.Context, string) (checklist.Records, error)
	MutateRecord(ctx context.Context, requestID, docID, actor string, fn func(checklist.Record) (checklist.Record, error)) (checklist.Record, checklist.Record, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, key string) (blobstore.Object, error)
	UploadArchive(ctx context.Context, name string, data []byte) (string, error)
	ShareTTL() time.Duration
}

type ShareCache interface {
	Save(ctx context.Context, requestID, fingerprint string, payload pack.SharePayload, linkTTL time.Duration) error
	Lookup(ctx context.Context, requestID, fingerprint string) (pack.SharePayload, error)
	Invalidate(ctx context.Context, requestID string) error
}

type SearchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexSlot(slot search.SlotRecord)
}

type Mailer interface {
	IsConfigured() bool
	SendRejectionNotice(to string, n email.RejectionNotice) error
	SendShareLink(to []string, n email.ShareNotice) error
}

type Reporter interface {
	Export(ctx context.Context, report export.Report, format export.Format) (*export.Result, error)
}

// Deps are the collaborators of Service. Catalog, Store and Blobs are
// required; the rest may be left nil.
type Deps struct {
	Catalog *catalog.Catalog
	Store   DataStore
	Blobs   BlobStore
	// Fetcher reads record files during pack assembly. Defaults to Blobs when
	// it can fetch.
	Fetcher pack.Fetcher
	Shares  ShareCache
	Search  SearchIndex
	Mailer  Mailer
	Reports Reporter
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

type Service struct {
	cfg       config.Config
	catalog   *catalog.Catalog
	store     DataStore
	blobs     BlobStore
	assembler *pack.Assembler
	shares    ShareCache
	search    SearchIndex
	mailer    Mailer
	reports   Reporter
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	fetcher := deps.Fetcher
	if fetcher == nil {
		if f, ok := deps.Blobs.(pack.Fetcher); ok {
			fetcher = f
		}
	}
	var uploader pack.Uploader
	if deps.Blobs != nil {
		uploader = deps.Blobs
	}
	reports := deps.Reports
	if reports == nil {
		reports = export.NewService()
	}
	return &Service{
		cfg:     cfg,
		catalog: deps.Catalog,
		store:   deps.Store,
		blobs:   deps.Blobs,
		assembler: &pack.Assembler{
			Fetcher:      fetcher,
			Uploader:     uploader,
			Now:          now,
			Logger:       deps.Logger.With().Str("component", "pack").Logger(),
			Metrics:      deps.Metrics,
			Concurrency:  cfg.FetchConcurrency,
			FetchTimeout: cfg.FetchTimeout,
		},
		shares:  deps.Shares,
		search:  deps.Search,
		mailer:  deps.Mailer,
		reports: reports,
		metrics: deps.Metrics,
		log:     deps.Logger,
		now:     now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type pinger interface {
	Ping(context.Context) error
}

// Dependencies pings the optional backends that can report their health.
// The database is checked separately through Ping.
func (s *Service) Dependencies(ctx context.Context) map[string]error {
	out := map[string]error{}
	if p, ok := s.blobs.(pinger); ok {
		out["blobstore"] = p.Ping(ctx)
	}
	if p, ok := s.shares.(pinger); ok {
		out["sharecache"] = p.Ping(ctx)
	}
	return out
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	caps := claims.Caps()
	return Session{
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		Caps:      caps,
		Party:     rbac.PartyOf(caps),
		ExpiresAt: time.Unix(claims.Exp, 0).UTC(),
	}, nil
}

var errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)

func upstreamError(op string, err error) error {
	return &DomainError{
		Status:  http.StatusBadGateway,
		Code:    "UPSTREAM_ERROR",
		Message: op + " failed",
		Details: map[string]any{"cause": err.Error()},
		Err:     err,
	}
}

// RequestInfo is the request metadata shown above the checklist.
type RequestInfo struct {
	ID         string     `json:"id"`
	VesselName string     `json:"vesselName"`
	PortName   string     `json:"portName"`
	ETA        *time.Time `json:"eta,omitempty"`
	DueDate    *time.Time `json:"dueDate,omitempty"`
}

// SlotView is one visible checklist row.
type SlotView struct {
	Definition catalog.Definition     `json:"definition"`
	Record     checklist.Record       `json:"record"`
	Access     rbac.Access            `json:"access"`
	History    checklist.Conversation `json:"history"`
}

type RequestView struct {
	Request   RequestInfo              `json:"request"`
	Documents []SlotView               `json:"documents"`
	Counts    map[checklist.Status]int `json:"counts"`
	Complete  bool                     `json:"complete"`
	ReadOnly  bool                     `json:"readOnly"`
	Filter    checklist.Filter         `json:"filter"`
}

func requestInfo(req store.PortCallRequest) RequestInfo {
	return RequestInfo{
		ID:         req.ID,
		VesselName: req.VesselName,
		PortName:   req.PortName,
		ETA:        req.ETA,
		DueDate:    req.DueDate,
	}
}

func (s *Service) load(ctx context.Context, requestID string) (store.PortCallRequest, checklist.Records, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return store.PortCallRequest{}, nil, err
	}
	records, err := s.store.LoadRecords(ctx, requestID)
	if err != nil {
		return store.PortCallRequest{}, nil, err
	}
	return req, records, nil
}

// GetRequest returns the checklist as the caller may see it.
func (s *Service) GetRequest(ctx context.Context, session Session, requestID string, readOnly bool, status string) (RequestView, error) {
	filter, err := checklist.ParseFilter(status)
	if err != nil {
		return RequestView{}, err
	}
	req, records, err := s.load(ctx, requestID)
	if err != nil {
		return RequestView{}, err
	}

	visible := checklist.VisibleDocuments(s.catalog, records, session.Caps, false, checklist.FilterAll)
	counts := records.Counts(visible)
	view := RequestView{
		Request:   requestInfo(req),
		Documents: []SlotView{},
		Counts:    counts,
		Complete:  len(visible) > 0 && counts[checklist.StatusApproved] == len(visible),
		ReadOnly:  readOnly,
		Filter:    filter,
	}
	for _, def := range checklist.VisibleDocuments(s.catalog, records, session.Caps, readOnly, filter) {
		rec := records.Get(def.ID)
		access := rbac.Evaluate(session.Caps, def)
		if readOnly {
			access.CanUpload = false
			access.CanVerify = false
		}
		view.Documents = append(view.Documents, SlotView{
			Definition: def,
			Record:     rec,
			Access:     access,
			History:    checklist.Thread(rec),
		})
	}
	return view, nil
}

// FileUpload is a file received with a document write.
type FileUpload struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}

type UploadInput struct {
	DocID string
	// Owner, when sent, must agree with the catalog.
	Owner string
	Note  string
	File  *FileUpload
}

// UploadDocument stores a new file for a slot and/or attaches a note.
func (s *Service) UploadDocument(ctx context.Context, session Session, requestID string, input UploadInput) (checklist.Record, error) {
	def, err := s.catalog.MustLookup(strings.TrimSpace(input.DocID))
	if err != nil {
		return checklist.Record{}, err
	}
	if input.Owner != "" {
		owner, err := catalog.ParseParty(input.Owner)
		if err != nil || owner != def.Owner {
			return checklist.Record{}, &checklist.ValidationError{Field: "owner", Message: fmt.Sprintf("%s is owned by %s", def.ID, def.Owner)}
		}
	}
	note := strings.TrimSpace(input.Note)
	if input.File == nil && note == "" {
		return checklist.Record{}, &checklist.ValidationError{Field: "file", Message: "a file or a note is required"}
	}

	access := rbac.Evaluate(session.Caps, def)
	if !access.CanView || (input.File != nil && !access.CanUpload) {
		return checklist.Record{}, errForbidden
	}

	var file checklist.FileRef
	if input.File != nil {
		if err := checklist.CheckUploadSize(input.File.Size); err != nil {
			return checklist.Record{}, err
		}
		if strings.TrimSpace(input.File.Name) == "" {
			return checklist.Record{}, &checklist.ValidationError{Field: "file", Message: "file name is required"}
		}
		req, err := s.store.GetRequest(ctx, requestID)
		if err != nil {
			return checklist.Record{}, err
		}
		key := blobstore.DocumentKey(req.ID, def.ID, input.File.Name)
		url, err := s.blobs.Put(ctx, key, input.File.Body, input.File.Size, input.File.ContentType)
		if err != nil {
			return checklist.Record{}, upstreamError("store file", err)
		}
		file = checklist.FileRef{URL: url, Name: input.File.Name, Size: input.File.Size}
	}

	now := s.now().UTC()
	_, next, err := s.store.MutateRecord(ctx, requestID, def.ID, session.UserID, func(rec checklist.Record) (checklist.Record, error) {
		var err error
		if input.File != nil {
			if rec, err = checklist.Upload(rec, def, file, now); err != nil {
				return rec, err
			}
		}
		if note != "" {
			if rec, err = checklist.Annotate(rec, note, session.Party, now); err != nil {
				return rec, err
			}
		}
		return rec, nil
	})
	if err != nil {
		if input.File != nil {
			s.log.Warn().Err(err).Str("request_id", requestID).Str("doc_id", def.ID).Str("file_url", file.URL).Msg("record write failed after file was stored")
		}
		return checklist.Record{}, err
	}

	if input.File != nil {
		s.metrics.RecordUpload(file.Size)
		s.metrics.RecordTransition("upload", string(next.Status))
	}
	if note != "" {
		s.metrics.RecordTransition("note", string(next.Status))
	}
	s.log.Info().
		Str("request_id", requestID).
		Str("doc_id", def.ID).
		Str("status", string(next.Status)).
		Str("user", session.UserID).
		Bool("file", input.File != nil).
		Msg("document updated")
	s.afterWrite(ctx, requestID, def, next)
	return next, nil
}

type VerifyInput struct {
	DocID  string `json:"docId"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// VerifyDocument approves or rejects a ship-submitted document.
func (s *Service) VerifyDocument(ctx context.Context, session Session, requestID string, input VerifyInput) (checklist.Record, error) {
	def, err := s.catalog.MustLookup(strings.TrimSpace(input.DocID))
	if err != nil {
		return checklist.Record{}, err
	}
	decision := checklist.Status(strings.ToLower(strings.TrimSpace(input.Status)))
	if decision != checklist.StatusApproved && decision != checklist.StatusRejected {
		return checklist.Record{}, &checklist.ValidationError{Field: "status", Message: "status must be approved or rejected"}
	}
	if decision == checklist.StatusRejected && strings.TrimSpace(input.Reason) == "" {
		return checklist.Record{}, &checklist.ValidationError{Field: "reason", Message: "a rejection reason is required"}
	}
	if def.Owner != catalog.PartyShip {
		return checklist.Record{}, fmt.Errorf("%s: %w", def.ID, checklist.ErrNotReviewable)
	}
	if !rbac.Evaluate(session.Caps, def).CanVerify {
		return checklist.Record{}, errForbidden
	}
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return checklist.Record{}, err
	}

	now := s.now().UTC()
	_, next, err := s.store.MutateRecord(ctx, requestID, def.ID, session.UserID, func(rec checklist.Record) (checklist.Record, error) {
		if decision == checklist.StatusApproved {
			return checklist.Approve(rec, def, now)
		}
		return checklist.Reject(rec, def, input.Reason, session.Party, now)
	})
	if err != nil {
		return checklist.Record{}, err
	}

	kind := "approve"
	if decision == checklist.StatusRejected {
		kind = "reject"
		s.notifyRejection(req, def, next, session)
	}
	s.metrics.RecordTransition(kind, string(next.Status))
	s.log.Info().
		Str("request_id", requestID).
		Str("doc_id", def.ID).
		Str("status", string(next.Status)).
		Str("user", session.UserID).
		Msg("document verified")
	s.afterWrite(ctx, requestID, def, next)
	return next, nil
}

func (s *Service) notifyRejection(req store.PortCallRequest, def catalog.Definition, rec checklist.Record, session Session) {
	if s.mailer == nil || !s.mailer.IsConfigured() || req.ShipContactEmail == "" {
		return
	}
	notice := email.RejectionNotice{
		VesselName:   req.VesselName,
		PortName:     req.PortName,
		RequestID:    req.ID,
		DocumentName: def.DisplayName,
		Reason:       rec.RejectionReason,
		ReviewedBy:   session.UserName,
		RequestURL:   s.cfg.PublicURL + "/requests/" + req.ID,
	}
	go func() {
		err := s.mailer.SendRejectionNotice(req.ShipContactEmail, notice)
		s.metrics.RecordNotification("rejection", err)
		if err != nil {
			s.log.Warn().Err(err).Str("request_id", req.ID).Str("doc_id", def.ID).Msg("rejection notice failed")
		}
	}()
}

// afterWrite refreshes the review queue entry and drops cached share links.
func (s *Service) afterWrite(ctx context.Context, requestID string, def catalog.Definition, rec checklist.Record) {
	if s.shares != nil {
		if err := s.shares.Invalidate(ctx, requestID); err != nil {
			s.log.Warn().Err(err).Str("request_id", requestID).Msg("invalidate share cache")
		}
	}
	if s.search == nil {
		return
	}
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", requestID).Msg("index slot: load request")
		return
	}
	s.search.IndexSlot(search.SlotRecord{
		ID:              search.SlotID(requestID, def.ID),
		RequestID:       requestID,
		DocID:           def.ID,
		DocName:         def.DisplayName,
		Owner:           def.Owner,
		Status:          string(rec.Status),
		VesselName:      req.VesselName,
		PortName:        req.PortName,
		FileName:        rec.FileName,
		Note:            rec.Note,
		RejectionReason: rec.RejectionReason,
		UpdatedAt:       rec.UpdatedAt.UnixMilli(),
	})
}

// BuildPack assembles the approved documents of a request. Only callers that
// can see every slot may build the pack.
func (s *Service) BuildPack(ctx context.Context, session Session, requestID string) (pack.Archive, error) {
	if !session.Caps.Privileged() {
		return pack.Archive{}, errForbidden
	}
	_, records, err := s.load(ctx, requestID)
	if err != nil {
		return pack.Archive{}, err
	}
	return s.assembler.Build(ctx, requestID, s.catalog, records)
}

type ShareInput struct {
	EmailTo []string `json:"emailTo"`
}

type ShareResult struct {
	pack.SharePayload
	Skipped []pack.Skip `json:"skipped"`
	Cached  bool        `json:"cached"`
	Emailed []string    `json:"emailed,omitempty"`
}

// SharePack builds the pack, uploads it unless an identical one was shared
// recently, and optionally mails the link.
func (s *Service) SharePack(ctx context.Context, session Session, requestID string, input ShareInput) (ShareResult, error) {
	if !session.Caps.Privileged() {
		return ShareResult{}, errForbidden
	}
	req, records, err := s.load(ctx, requestID)
	if err != nil {
		return ShareResult{}, err
	}
	archive, err := s.assembler.Build(ctx, requestID, s.catalog, records)
	if err != nil {
		return ShareResult{}, err
	}
	meta := pack.RequestMeta{RequestID: req.ID, VesselName: req.VesselName, PortName: req.PortName}

	result := ShareResult{Skipped: archive.Skipped}
	if s.shares != nil {
		cached, err := s.shares.Lookup(ctx, requestID, archive.Fingerprint)
		switch {
		case err == nil:
			s.metrics.RecordShareLink("cached")
			result.SharePayload = cached
			result.Cached = true
		case !errors.Is(err, sharecache.ErrMiss):
			s.log.Warn().Err(err).Str("request_id", requestID).Msg("share cache lookup")
		}
	}
	if !result.Cached {
		payload, err := s.assembler.Share(ctx, archive, meta)
		if err != nil {
			return ShareResult{}, upstreamError("share pack", err)
		}
		result.SharePayload = payload
		if s.shares != nil {
			if err := s.shares.Save(ctx, requestID, archive.Fingerprint, payload, s.blobs.ShareTTL()); err != nil {
				s.log.Warn().Err(err).Str("request_id", requestID).Msg("share cache save")
			}
		}
	}

	if len(input.EmailTo) > 0 {
		if s.mailer == nil || !s.mailer.IsConfigured() {
			return ShareResult{}, domainError(http.StatusServiceUnavailable, "EMAIL_UNAVAILABLE", "Email is not configured", nil)
		}
		err := s.mailer.SendShareLink(input.EmailTo, email.ShareNotice{
			VesselName:  req.VesselName,
			PortName:    req.PortName,
			RequestID:   req.ID,
			DownloadURL: result.URL,
			Files:       result.Files,
			ExpiresAt:   s.now().Add(s.blobs.ShareTTL()),
			SenderName:  session.UserName,
		})
		s.metrics.RecordNotification("share", err)
		if err != nil {
			return ShareResult{}, upstreamError("send share link", err)
		}
		result.Emailed = input.EmailTo
	}
	return result, nil
}

// UploadArchive stores a client-assembled archive and returns its link.
func (s *Service) UploadArchive(ctx context.Context, session Session, name string, body io.Reader) (string, error) {
	if !session.Caps.Privileged() {
		return "", errForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &checklist.ValidationError{Field: "name", Message: "archive name is required"}
	}
	data, err := io.ReadAll(io.LimitReader(body, MaxArchiveBytes+1))
	if err != nil {
		return "", fmt.Errorf("read archive: %w", err)
	}
	if len(data) == 0 {
		return "", &checklist.ValidationError{Field: "body", Message: "archive is empty"}
	}
	if len(data) > MaxArchiveBytes {
		return "", &checklist.ValidationError{Field: "body", Message: fmt.Sprintf("archive exceeds %d bytes", MaxArchiveBytes)}
	}
	url, err := s.blobs.UploadArchive(ctx, name, data)
	if err != nil {
		return "", upstreamError("upload archive", err)
	}
	s.metrics.RecordShareLink("client")
	return url, nil
}

// OpenFile streams a stored object. Document files follow slot visibility;
// archives need a caller that can see every slot.
func (s *Service) OpenFile(ctx context.Context, session Session, key string) (blobstore.Object, error) {
	parts := strings.Split(key, "/")
	switch {
	case len(parts) >= 4 && parts[0] == "requests":
		if def, ok := s.catalog.Lookup(parts[2]); ok && !rbac.Evaluate(session.Caps, def).CanView {
			return blobstore.Object{}, errForbidden
		}
	case len(parts) == 2 && parts[0] == "archives":
		if !session.Caps.Privileged() {
			return blobstore.Object{}, errForbidden
		}
	default:
		return blobstore.Object{}, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
	}
	obj, err := s.blobs.Open(ctx, key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return blobstore.Object{}, err
		}
		return blobstore.Object{}, upstreamError("open file", err)
	}
	return obj, nil
}

// Report renders the compliance report over the slots the caller may see.
func (s *Service) Report(ctx context.Context, session Session, requestID, format string) (*export.Result, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	req, records, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	report := export.Report{
		RequestID:   req.ID,
		VesselName:  req.VesselName,
		PortName:    req.PortName,
		ETA:         req.ETA,
		GeneratedAt: s.now().UTC(),
		GeneratedBy: session.UserName,
	}
	for _, def := range checklist.VisibleDocuments(s.catalog, records, session.Caps, false, checklist.FilterAll) {
		rec := records.Get(def.ID)
		row := export.Row{
			DocID:           def.ID,
			DisplayName:     def.DisplayName,
			Owner:           string(def.Owner),
			Status:          string(rec.Status),
			FileName:        rec.FileName,
			Note:            rec.Note,
			RejectionReason: rec.RejectionReason,
			UpdatedAt:       rec.UpdatedAt,
		}
		for _, entry := range checklist.History(rec) {
			row.History = append(row.History, export.HistoryLine{
				Kind:      string(entry.Kind),
				Role:      string(entry.Role),
				Message:   entry.Message,
				CreatedAt: entry.CreatedAt,
			})
		}
		report.Rows = append(report.Rows, row)
	}
	return s.reports.Export(ctx, report, f)
}

type QueueInput struct {
	Text   string
	Status string
	Limit  int
	Offset int
}

// ReviewQueue searches slots across requests, restricted to the parties
// whose slots the caller may see.
func (s *Service) ReviewQueue(ctx context.Context, session Session, input QueueInput) (search.Response, error) {
	q := search.Query{Text: strings.TrimSpace(input.Text), Limit: input.Limit, Offset: input.Offset}
	for _, raw := range strings.Split(input.Status, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		status := checklist.Status(raw)
		if !status.Valid() {
			return search.Response{}, &checklist.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", raw)}
		}
		q.Statuses = append(q.Statuses, raw)
	}
	for _, party := range []catalog.Party{catalog.PartyShip, catalog.PartyOffice} {
		if rbac.Evaluate(session.Caps, catalog.Definition{Owner: party}).CanView {
			q.Owners = append(q.Owners, party)
		}
	}
	if len(q.Owners) == 0 {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(ctx, q), nil
}
