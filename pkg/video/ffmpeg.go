package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"

	imgutil "eupho-cam/pkg/utils/image"
)

// FFmpeg records through an ffmpeg child process fed with JPEG frames on
// stdin. Output is read from stdout and emitted every timeslice.
type FFmpeg struct {
	Bin string

	once     sync.Once
	encoders map[string]bool
}

func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{Bin: bin}
}

func (f *FFmpeg) probe() {
	f.encoders = map[string]bool{}
	path, err := exec.LookPath(f.Bin)
	if err != nil {
		logger.Infof("ffmpeg not available: %v", err)
		return
	}
	f.Bin = path
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "-hide_banner", "-encoders").Output()
	if err != nil {
		logger.Warnf("list ffmpeg encoders: %v", err)
		return
	}
	f.encoders = parseEncoders(out)
}

// parseEncoders reads the table printed by `ffmpeg -encoders`.
func parseEncoders(out []byte) map[string]bool {
	res := map[string]bool{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if header {
			if strings.HasPrefix(line, "---") {
				header = false
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			res[fields[1]] = true
		}
	}
	return res
}

func (f *FFmpeg) Supported(mimeType string) bool {
	format, ok := Formats[mimeType]
	if !ok || format.Container == "" {
		return false
	}
	f.once.Do(f.probe)
	return f.encoders[format.VideoCodec]
}

func (f *FFmpeg) New(ctx context.Context, mimeType string, opts Options) (Recorder, error) {
	if !f.Supported(mimeType) {
		return nil, fmt.Errorf("%s: %w", mimeType, ErrUnsupported)
	}
	format := Formats[mimeType]
	opts = opts.withDefaults()
	if len(opts.Audio) > 0 && !f.encoders[format.AudioCodec] {
		logger.Warnf("ffmpeg lacks %s, recording %s without audio", format.AudioCodec, mimeType)
		opts.Audio = nil
	}

	cmd := exec.CommandContext(ctx, f.Bin, ffmpegArgs(format, opts)...)
	r := &ffmpegRecorder{
		mime:    mimeType,
		format:  format,
		width:   opts.Width,
		height:  opts.Height,
		quality: opts.Quality,
		cmd:     cmd,
		chunks:  make(chan []byte),
		abort:   make(chan struct{}),
	}
	cmd.Stderr = &r.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	r.stdin = stdin
	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	logger.Infof("recording %s via %s", mimeType, strings.Join(cmd.Args, " "))
	go r.pump(stdout, opts.Timeslice)

	return r, nil
}

func ffmpegArgs(format Format, opts Options) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "image2pipe", "-c:v", "mjpeg",
		"-framerate", strconv.Itoa(opts.FPS),
		"-i", "pipe:0",
	}
	for _, src := range opts.Audio {
		args = append(args, "-f", "alsa", "-i", src)
	}
	switch n := len(opts.Audio); {
	case n == 1:
		args = append(args, "-map", "0:v", "-map", "1:a")
	case n > 1:
		var in strings.Builder
		for i := 1; i <= n; i++ {
			fmt.Fprintf(&in, "[%d:a]", i)
		}
		args = append(args,
			"-filter_complex", fmt.Sprintf("%samix=inputs=%d[a]", in.String(), n),
			"-map", "0:v", "-map", "[a]")
	}
	args = append(args,
		"-c:v", format.VideoCodec,
		"-b:v", strconv.Itoa(opts.Bitrate),
		"-pix_fmt", "yuv420p",
	)
	if len(opts.Audio) > 0 {
		args = append(args, "-c:a", format.AudioCodec, "-shortest")
	}
	if format.Container == "mp4" {
		// fragmented so the muxer never seeks on the pipe
		args = append(args, "-movflags", "frag_keyframe+empty_moov+default_base_moof")
	}
	return append(args, "-f", format.Container, "pipe:1")
}

type ffmpegRecorder struct {
	mime    string
	format  Format
	width   int
	height  int
	quality int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer

	lock    sync.Mutex
	stopped bool
	err     error

	chunks    chan []byte
	abort     chan struct{}
	abortOnce sync.Once
}

func (r *ffmpegRecorder) MimeType() string      { return r.mime }
func (r *ffmpegRecorder) Extension() string     { return r.format.Extension }
func (r *ffmpegRecorder) Chunks() <-chan []byte { return r.chunks }

func (r *ffmpegRecorder) AddFrame(img image.Image) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if b := img.Bounds(); b.Dx() != r.width || b.Dy() != r.height {
		dst := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst
	}
	var buf bytes.Buffer
	if err := imgutil.EncodeJPEG(img, &buf, r.quality); err != nil {
		return err
	}
	_, err := r.stdin.Write(buf.Bytes())
	return err
}

// Stop closes stdin so ffmpeg flushes and exits.
func (r *ffmpegRecorder) Stop() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.stopped {
		return ErrStopped
	}
	r.stopped = true
	return r.stdin.Close()
}

func (r *ffmpegRecorder) Abort() {
	r.abortOnce.Do(func() { close(r.abort) })
	r.lock.Lock()
	defer r.lock.Unlock()
	if !r.stopped {
		r.stopped = true
		_ = r.stdin.Close()
	}
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
}

func (r *ffmpegRecorder) Err() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.err
}

func (r *ffmpegRecorder) pump(stdout io.Reader, timeslice time.Duration) {
	defer close(r.chunks)

	pieces := make(chan []byte)
	go func() {
		defer close(pieces)
		buf := make([]byte, 64<<10)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				select {
				case pieces <- append([]byte(nil), buf[:n]...):
				case <-r.abort:
					_, _ = io.Copy(io.Discard, stdout)
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	t := time.NewTicker(timeslice)
	defer t.Stop()
	var pending []byte
	flush := func() bool {
		if len(pending) == 0 {
			return true
		}
		select {
		case r.chunks <- pending:
			pending = nil
			return true
		case <-r.abort:
			return false
		}
	}
	for {
		select {
		case p, ok := <-pieces:
			if !ok {
				err := r.cmd.Wait()
				if err != nil {
					err = fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(r.stderr.String()))
				}
				r.lock.Lock()
				r.err = err
				r.lock.Unlock()
				flush()
				return
			}
			pending = append(pending, p...)
		case <-t.C:
			if !flush() {
				r.drain(pieces)
				return
			}
		case <-r.abort:
			r.drain(pieces)
			return
		}
	}
}

// drain waits for the reader to finish and reaps the process.
func (r *ffmpegRecorder) drain(pieces <-chan []byte) {
	for range pieces {
	}
	_ = r.cmd.Wait()
}
