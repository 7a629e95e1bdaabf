package web

import (
	"archive/tar"
	"fmt"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/crewdeck/crewdeck/internal/report"
)

// downloadArchive bundles every completed run's report into a single
// tar.zst download.
func (s *Server) downloadArchive(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var completed []int
	for i, run := range runs {
		if run.Status == "completed" && run.Report != "" {
			completed = append(completed, i)
		}
	}
	if len(completed) == 0 {
		jsonError(w, "no completed runs to archive", http.StatusNotFound)
		return
	}

	name := fmt.Sprintf("crew_reports_%s.tar.zst", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	zw, err := zstd.NewWriter(w)
	if err != nil {
		jsonError(w, fmt.Sprintf("create zstd writer: %v", err), http.StatusInternalServerError)
		return
	}
	tw := tar.NewWriter(zw)

	for _, i := range completed {
		run := runs[i]
		ts := time.Now()
		if run.CompletedAt != nil {
			ts = *run.CompletedAt
		}
		// Prefix with the run id so same-second reports don't collide
		entry := fmt.Sprintf("%s_%s", shortID(run.ID), report.Filename(ts))

		data := []byte(run.Report)
		hdr := &tar.Header{
			Name:    entry,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: ts,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return
		}
		if _, err := tw.Write(data); err != nil {
			return
		}
	}

	if err := tw.Close(); err != nil {
		return
	}
	zw.Close()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
