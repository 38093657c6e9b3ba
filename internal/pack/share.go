package pack

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// RequestMeta is the port-call metadata quoted in a share message.
type RequestMeta struct {
	RequestID  string `json:"requestId"`
	VesselName string `json:"vesselName"`
	PortName   string `json:"portName"`
}

type SharePayload struct {
	URL         string `json:"url"`
	ObjectName  string `json:"objectName"`
	Text        string `json:"text"`
	MessageLink string `json:"messageLink"`
	Checksum    string `json:"checksum"`
	Files       int    `json:"files"`
}

// ObjectName is the unique blob name for a shared archive.
func (a *Assembler) ObjectName(requestID string) string {
	return fmt.Sprintf("PreArrival_%s_%d.zip", PathSafe(requestID), a.now().UnixMilli())
}

// Share uploads an assembled archive and formats the message payload.
func (a *Assembler) Share(ctx context.Context, archive Archive, meta RequestMeta) (SharePayload, error) {
	if a.Uploader == nil {
		return SharePayload{}, errors.New("pack: no uploader configured")
	}
	if len(archive.Data) == 0 {
		return SharePayload{}, errors.New("pack: archive is empty")
	}
	name := a.ObjectName(meta.RequestID)
	link, err := a.Uploader.UploadArchive(ctx, name, archive.Data)
	if err != nil {
		return SharePayload{}, fmt.Errorf("upload archive: %w", err)
	}
	a.Metrics.RecordShareLink("uploaded")
	a.Logger.Info().Str("request_id", meta.RequestID).Str("object", name).Msg("pack shared")
	return NewSharePayload(meta, link, name, archive), nil
}

// NewSharePayload formats the message for an archive already available at link.
func NewSharePayload(meta RequestMeta, link, objectName string, archive Archive) SharePayload {
	text := ShareText(meta, link)
	return SharePayload{
		URL:         link,
		ObjectName:  objectName,
		Text:        text,
		MessageLink: MessageLink(text),
		Checksum:    archive.Checksum,
		Files:       len(archive.Files),
	}
}

func ShareText(meta RequestMeta, link string) string {
	vessel := strings.TrimSpace(meta.VesselName)
	if vessel == "" {
		vessel = "-"
	}
	port := strings.TrimSpace(meta.PortName)
	if port == "" {
		port = "-"
	}
	var b strings.Builder
	b.WriteString("Pre-Arrival Document Pack\n")
	fmt.Fprintf(&b, "Vessel: %s\n", vessel)
	fmt.Fprintf(&b, "Request: %s\n", meta.RequestID)
	fmt.Fprintf(&b, "Port: %s\n", port)
	fmt.Fprintf(&b, "Download: %s", link)
	return b.String()
}

// MessageLink is a one-tap wa.me link prefilled with text.
func MessageLink(text string) string {
	return "https://wa.me/?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}
