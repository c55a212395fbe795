package client

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"
)

// UploadAudio streams file as the multipart field "file" to
// POST /api/transcriptions/transcribe?meeting_id={meetingID}. onProgress,
// when non-nil, is called from a background goroutine as payload bytes are
// handed to the transport. The call returns once the server acknowledges
// the upload; transcription itself continues asynchronously.
func (c *HTTPClient) UploadAudio(ctx context.Context, meetingID string, file AudioFile, onProgress ProgressFunc) (*TranscribeAccepted, error) {
	if meetingID == "" {
		return nil, fmt.Errorf("upload audio: empty meeting id")
	}
	if err := validate.Struct(file); err != nil {
		return nil, fmt.Errorf("upload audio: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		part, err := mw.CreateFormFile("file", file.Name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := &progressReader{r: file.Body, total: file.Size, fn: onProgress}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	path := "/api/transcriptions/transcribe?meeting_id=" + url.QueryEscape(meetingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		pr.CloseWithError(err)
		wg.Wait()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.log.Info("uploading audio", "meeting_id", meetingID, "file", file.Name, "size", file.Size)
	var out TranscribeAccepted
	err = c.do(c.upload, req, path, &out)
	// Unblock the writer if the transport stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe)
	wg.Wait()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// progressReader reports cumulative bytes read, capped at total.
type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.fn != nil {
		p.sent += int64(n)
		if p.sent > p.total {
			p.sent = p.total
		}
		p.fn(p.sent, p.total)
	}
	return n, err
}
