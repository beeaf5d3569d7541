package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/fetch"
	"github.com/koios/openmatrix/internal/imaging"
)

var (
	// ErrUploadFailed is returned when the device does not accept an upload
	ErrUploadFailed = errors.New("image upload failed")
	// ErrNoEncoder is returned by UploadImage on a client built without WithEncoder
	ErrNoEncoder = errors.New("no image encoder configured")
)

// UploadImage converts data to a GIF sized for the device and uploads it as
// filename (with its extension changed to .gif). Conversion errors and
// oversized output are returned before any request is made. On success the
// image list is refreshed; the device state is never touched.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (*Response, error) {
	if c.encoder == nil {
		return nil, ErrNoEncoder
	}

	width, height := c.mirror.State().MatrixSize(imaging.DefaultWidth, imaging.DefaultHeight)
	result, err := c.encoder.Process(ctx, data, width, height)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", filename, err)
	}
	if err := imaging.CheckSize(result.Data); err != nil {
		return nil, err
	}

	name := GIFName(filename)
	body, contentType, err := multipartBody(name, result.Data)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Uploading image",
		zap.String("name", name),
		zap.String("size", humanize.IBytes(uint64(len(result.Data)))),
		zap.Int("width", width),
		zap.Int("height", height))

	resp, err := c.do(ctx, http.MethodPost, "/imageupload", body, contentType, fetch.WithTimeout(c.uploadTimeout))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, fmt.Errorf("%w: status %d", ErrUploadFailed, resp.StatusCode)
	}

	if _, err := c.FetchImages(ctx); err != nil {
		c.logger.Warn("Failed to refresh image list after upload", zap.Error(err))
	}
	return resp, nil
}

// GIFName gives filename a .gif extension
func GIFName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = "image"
	}
	if strings.HasSuffix(name, ".gif") {
		return name
	}
	return strings.TrimSuffix(name, path.Ext(name)) + ".gif"
}

func multipartBody(name string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish form: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
