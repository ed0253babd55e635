package webserver

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// serveStatic implements spec §4.3 "Static files": path-traversal-safe
// resolution under staticFilesDirectory, directory/root fallback to
// index.html, and conditional GET via a strong ETag and Last-Modified.
// Returns false to let the request fall through to action routing.
func (s *Server) serveStatic(c *gin.Context) bool {
	rel := strings.TrimPrefix(c.Request.URL.Path, s.cfg.StaticRoute)
	rel = strings.TrimPrefix(rel, "/")

	root, err := filepath.Abs(s.cfg.StaticDirectory)
	if err != nil {
		return false
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return false
	}

	resolved, err := resolveWithinRoot(root, filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return false
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return false
	}
	if info.IsDir() {
		resolved, err = resolveWithinRoot(root, filepath.Join(resolved, "index.html"))
		if err != nil {
			return false
		}
		info, err = os.Stat(resolved)
		if err != nil || info.IsDir() {
			return false
		}
	}

	if s.cfg.StaticETagEnabled {
		etag := fmt.Sprintf("%q", strongETag(info))
		lastModified := info.ModTime().UTC().Format(http.TimeFormat)

		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return true
		}
		if since := c.GetHeader("If-Modified-Since"); since != "" {
			if t, err := time.Parse(http.TimeFormat, since); err == nil && !info.ModTime().Truncate(time.Second).After(t) {
				c.Status(http.StatusNotModified)
				return true
			}
		}

		c.Header("ETag", etag)
		c.Header("Last-Modified", lastModified)
	}

	contentType := mime.TypeByExtension(filepath.Ext(resolved))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "public, max-age=3600")
	c.File(resolved)
	return true
}

// resolveWithinRoot cleans and symlink-resolves candidate, rejecting any
// result outside root — this is what catches "..", URL-decoded "%2e%2e"
// (already decoded by net/http into the request path by the time this
// runs), and symlink escapes in one check.
func resolveWithinRoot(root, candidate string) (string, error) {
	cleaned := filepath.Clean(candidate)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes static root")
	}
	real, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		return "", err
	}
	if real != root && !strings.HasPrefix(real, root+string(filepath.Separator)) {
		return "", fmt.Errorf("symlink escapes static root")
	}
	return real, nil
}

func strongETag(info os.FileInfo) string {
	h := sha1.New()
	fmt.Fprintf(h, "%d-%d", info.Size(), info.ModTime().UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}
