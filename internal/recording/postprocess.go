package recording

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wirow-io/wirow-server-sub001/internal/rtpcaps"
	"github.com/wirow-io/wirow-server-sub001/pkg/queue"
	"github.com/wirow-io/wirow-server-sub001/pkg/storage"
)

var exportFilenameRe = regexp.MustCompile(`^(\d+)-([^-]+)-([av])\.webm$`)

// exportFile is one probed per-producer export, located by walking a room's
// recording directory (the two-level uuid fan-out newProducerExport wrote
// into is transparent to this walk).
type exportFile struct {
	Path       string
	UserID     string
	Kind       rtpcaps.Kind
	StartMs    int64
	DurationMs int64
	broken     bool
}

// Run post-processes one room's recording session: it discovers every
// export file left under payload.BaseDir, repairs any with unreadable
// duration metadata, lays participants out on a square-ish grid, composites
// them into a single file via an ffmpeg filter graph, and uploads the result.
func Run(ctx context.Context, payload queue.PostProcessPayload, uploader *storage.S3, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	files, err := discoverExportFiles(payload.BaseDir)
	if err != nil {
		return fmt.Errorf("discover export files: %w", err)
	}
	if len(files) == 0 {
		log.Warn("no export files found for room", zap.String("room_cid", payload.RoomCID), zap.String("base_dir", payload.BaseDir))
		return nil
	}

	for i := range files {
		probeExportFile(ctx, &files[i])
		if files[i].broken {
			if err := repairExportFile(ctx, &files[i]); err != nil {
				log.Error("repair export file", zap.Error(err), zap.String("path", files[i].Path))
			}
		}
	}

	segments := deriveSegments(files)
	log.Info("post-process segments derived", zap.String("room_cid", payload.RoomCID), zap.Int("count", len(segments)))

	videoFiles := filterByKind(files, rtpcaps.KindVideo)
	cols, rows := gridDimensions(len(videoFiles))

	outPath := filepath.Join(payload.BaseDir, "composite.webm")
	if len(videoFiles) > 0 {
		if err := compositeGrid(ctx, videoFiles, cols, rows, outPath); err != nil {
			return fmt.Errorf("composite grid: %w", err)
		}
	}

	if uploader == nil {
		return nil
	}
	key := storage.CompositeKey(payload.RoomCID, filepath.Base(outPath))
	if _, err := uploader.UploadFile(ctx, uploader.RecordingsBucket(), key, "video/webm", outPath); err != nil {
		return fmt.Errorf("upload composite: %w", err)
	}
	log.Info("composite uploaded", zap.String("room_cid", payload.RoomCID), zap.String("key", key))
	return nil
}

// discoverExportFiles walks baseDir's uuid fan-out tree and parses every
// <relativeMs>-<userID>-<a|v>.webm it finds.
func discoverExportFiles(baseDir string) ([]exportFile, error) {
	var out []exportFile
	err := filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		m := exportFilenameRe.FindStringSubmatch(filepath.Base(path))
		if m == nil {
			return nil
		}
		startMs, _ := strconv.ParseInt(m[1], 10, 64)
		kind := rtpcaps.KindAudio
		if m[3] == "v" {
			kind = rtpcaps.KindVideo
		}
		out = append(out, exportFile{Path: path, UserID: m[2], Kind: kind, StartMs: startMs})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartMs < out[j].StartMs })
	return out, err
}

// probeExportFile reads duration via ffprobe; a file with no parseable
// duration is marked broken for repair.
func probeExportFile(ctx context.Context, f *exportFile) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		f.Path,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		f.broken = true
		return
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil || seconds <= 0 {
		f.broken = true
		return
	}
	f.DurationMs = int64(seconds * 1000)
}

// repairExportFile remuxes a file whose container index is unreadable,
// tolerating the embedded timestamp gaps an interrupted ffmpeg write leaves
// behind.
func repairExportFile(ctx context.Context, f *exportFile) error {
	repaired := f.Path + ".repair.webm"
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-fflags", "+genpts+igndts",
		"-err_detect", "ignore_err",
		"-i", f.Path,
		"-c", "copy",
		"-y", repaired,
	)
	if err := cmd.Run(); err != nil {
		return err
	}
	if err := os.Rename(repaired, f.Path); err != nil {
		return err
	}
	probeExportFile(ctx, f)
	f.broken = false
	return nil
}

// segment is a contiguous span of room time during which the same set of
// participants' files overlap; the boundaries are every file's start and
// (start+duration) timestamp, deduplicated and sorted.
type segment struct {
	StartMs int64
	EndMs   int64
}

// deriveSegments computes change-points from every file's start/end
// timestamp and folds them into contiguous segments.
func deriveSegments(files []exportFile) []segment {
	if len(files) == 0 {
		return nil
	}
	points := make(map[int64]struct{})
	for _, f := range files {
		points[f.StartMs] = struct{}{}
		points[f.StartMs+f.DurationMs] = struct{}{}
	}
	sorted := make([]int64, 0, len(points))
	for p := range points {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	segments := make([]segment, 0, len(sorted))
	for i := 0; i+1 < len(sorted); i++ {
		if sorted[i] == sorted[i+1] {
			continue
		}
		segments = append(segments, segment{StartMs: sorted[i], EndMs: sorted[i+1]})
	}
	return segments
}

func filterByKind(files []exportFile, kind rtpcaps.Kind) []exportFile {
	out := make([]exportFile, 0, len(files))
	for _, f := range files {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// gridDimensions sizes a square-ish grid for n participants: columns is the
// ceiling of the square root, rows is however many that leaves over.
func gridDimensions(n int) (cols, rows int) {
	if n <= 0 {
		return 0, 0
	}
	cols = int(math.Ceil(math.Sqrt(float64(n))))
	rows = int(math.Ceil(float64(n) / float64(cols)))
	return cols, rows
}

// compositeGrid builds an ffmpeg filter_complex that scales every input to
// one cell size and tiles them with xstack, then runs ffmpeg to produce
// outPath.
func compositeGrid(ctx context.Context, files []exportFile, cols, rows int, outPath string) error {
	const cellW, cellH = 640, 360

	args := []string{"-y"}
	for _, f := range files {
		args = append(args, "-i", f.Path)
	}

	var filter strings.Builder
	layout := make([]string, 0, len(files))
	for i := range files {
		fmt.Fprintf(&filter, "[%d:v]scale=%d:%d[v%d];", i, cellW, cellH, i)
		col := i % cols
		row := i / cols
		layout = append(layout, fmt.Sprintf("%d_%d", col*cellW, row*cellH))
	}
	inputsLabel := make([]string, len(files))
	for i := range files {
		inputsLabel[i] = fmt.Sprintf("[v%d]", i)
	}
	fmt.Fprintf(&filter, "%sxstack=inputs=%d:layout=%s[out]", strings.Join(inputsLabel, ""), len(files), strings.Join(layout, "|"))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[out]",
		outPath,
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	return cmd.Run()
}
