package sim

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/camgraph/internal/hw"
)

// chain builds camera -> splitter -> isp -> renderer using the given camera port.
func chain(t *testing.T, f *Framework, cameraPort int) hw.Connection {
	t.Helper()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	create := func(kind hw.ComponentKind) hw.Component {
		t.Helper()
		c, err := f.CreateComponent(kind)
		must(err)
		return c
	}

	cam := create(hw.KindCamera)
	split := create(hw.KindSplitter)
	isp := create(hw.KindConverter)
	render := create(hw.KindRenderer)

	must(cam.Control().SetCameraNum(0))
	must(cam.Output(cameraPort).CommitFormat(hw.AlignedFormat(hw.EncodingOpaque, 640, 480)))
	must(split.Input(0).CommitFormat(hw.AlignedFormat(hw.EncodingOpaque, 640, 480)))
	must(split.Output(0).CommitFormat(hw.AlignedFormat(hw.EncodingRGBA, 640, 480)))
	must(isp.Input(0).CommitFormat(hw.AlignedFormat(hw.EncodingRGBA, 640, 480)))
	must(isp.Output(0).CommitFormat(hw.AlignedFormat(hw.EncodingRGB24, 320, 240)))
	must(render.Input(0).CommitFormat(hw.AlignedFormat(hw.EncodingRGB24, 320, 240)))
	for _, c := range []hw.Component{cam, split, isp, render} {
		must(c.Enable())
	}

	c1, err := f.Connect(cam.Output(cameraPort), split.Input(0), hw.Tunnelled)
	must(err)
	c2, err := f.Connect(split.Output(0), isp.Input(0), hw.Tunnelled)
	must(err)
	c3, err := f.Connect(isp.Output(0), render.Input(0), hw.PoolBacked)
	must(err)
	for _, c := range []hw.Connection{c3, c2, c1} {
		must(c.Enable())
	}
	return c3
}

func seed(t *testing.T, conn hw.Connection) {
	t.Helper()
	for b := conn.Pool().Get(); b != nil; b = conn.Pool().Get() {
		if err := conn.Out().SendBuffer(b); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPreviewStreamsContinuously(t *testing.T) {
	f := New(Config{})
	conn := chain(t, f, hw.CameraPreviewPort)

	delivered := 0
	conn.SetCallback(func(hw.Connection) { delivered++ })
	seed(t, conn)

	stats, err := f.Stats(conn)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Queued != DefaultPoolSize {
		t.Errorf("expected %d queued buffers, got %d", DefaultPoolSize, stats.Queued)
	}
	if delivered != DefaultPoolSize {
		t.Errorf("expected %d callbacks, got %d", DefaultPoolSize, delivered)
	}

	b, err := conn.Queue().Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := hw.EncodingRGB24.FrameSize(320, 240)
	if b.Length != want {
		t.Errorf("expected payload %d, got %d", want, b.Length)
	}

	stats, _ = f.Stats(conn)
	if stats.Outstanding() != 1 {
		t.Errorf("expected 1 outstanding buffer, got %d", stats.Outstanding())
	}
	b.Release()
	stats, _ = f.Stats(conn)
	if stats.Outstanding() != 0 || stats.InPool != 1 {
		t.Errorf("expected buffer back in pool, got %+v", stats)
	}
}

func TestCapturePortNeedsTrigger(t *testing.T) {
	f := New(Config{})
	conn := chain(t, f, hw.CameraCapturePort)
	seed(t, conn)

	if conn.Queue().Len() != 0 {
		t.Fatalf("capture port delivered %d frames without a trigger", conn.Queue().Len())
	}

	camPort := findCameraPort(t, f, hw.CameraCapturePort)
	if err := camPort.SetCapture(true); err != nil {
		t.Fatal(err)
	}
	if conn.Queue().Len() != 1 {
		t.Fatalf("expected one frame per trigger, got %d", conn.Queue().Len())
	}
	if err := camPort.SetCapture(true); err != nil {
		t.Fatal(err)
	}
	if conn.Queue().Len() != 2 {
		t.Fatalf("expected two frames after two triggers, got %d", conn.Queue().Len())
	}
}

func findCameraPort(t *testing.T, f *Framework, index int) hw.Port {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.components {
		if c.kind == hw.KindCamera {
			return c.outputs[index]
		}
	}
	t.Fatal("no camera component")
	return nil
}

func TestEmptyFramesDoNotConsumeTrigger(t *testing.T) {
	f := New(Config{
		EmptyFrames: func(src Source, seq uint64) bool {
			return src.Port == hw.CameraCapturePort && seq < 2
		},
	})
	conn := chain(t, f, hw.CameraCapturePort)
	seed(t, conn)

	if err := findCameraPort(t, f, hw.CameraCapturePort).SetCapture(true); err != nil {
		t.Fatal(err)
	}

	var lengths []int
	for range 3 {
		b := conn.Queue().Get()
		if b == nil {
			t.Fatal("expected three deliveries")
		}
		lengths = append(lengths, b.Length)
		b.Release()
	}
	if lengths[0] != 0 || lengths[1] != 0 || lengths[2] == 0 {
		t.Errorf("expected [empty empty full], got %v", lengths)
	}
}

func TestSinkConsumesAndReturnsBuffer(t *testing.T) {
	f := New(Config{})
	conn := chain(t, f, hw.CameraPreviewPort)
	seed(t, conn)

	b := conn.Queue().Get()
	if err := conn.In().SendBuffer(b); err != nil {
		t.Fatal(err)
	}
	if got := f.Rendered()["renderer0"]; got != 1 {
		t.Errorf("expected one render, got %d", got)
	}
	stats, _ := f.Stats(conn)
	if stats.Outstanding() != 0 {
		t.Errorf("expected sink to return the buffer, got %+v", stats)
	}
}

func TestHostFedInput(t *testing.T) {
	f := New(Config{})
	split, _ := f.CreateComponent(hw.KindSplitter)
	isp, _ := f.CreateComponent(hw.KindConverter)
	render, _ := f.CreateComponent(hw.KindRenderer)

	in := split.Input(0)
	if err := in.CommitFormat(hw.AlignedFormat(hw.EncodingRGB24, 64, 48)); err != nil {
		t.Fatal(err)
	}
	_ = split.Output(0).CommitFormat(hw.AlignedFormat(hw.EncodingRGBA, 64, 48))
	_ = isp.Input(0).CommitFormat(hw.AlignedFormat(hw.EncodingRGBA, 64, 48))
	_ = isp.Output(0).CommitFormat(hw.AlignedFormat(hw.EncodingRGBA, 32, 32))
	_ = render.Input(0).CommitFormat(hw.AlignedFormat(hw.EncodingRGBA, 32, 32))

	host, err := in.CreatePool(2)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []hw.Component{split, isp, render} {
		if err := c.Enable(); err != nil {
			t.Fatal(err)
		}
	}
	c1, _ := f.Connect(split.Output(0), isp.Input(0), hw.Tunnelled)
	c2, _ := f.Connect(isp.Output(0), render.Input(0), hw.PoolBacked)
	_ = c2.Enable()
	_ = c1.Enable()
	seed(t, c2)

	if c2.Queue().Len() != 0 {
		t.Fatal("host-fed chain produced a frame before input")
	}

	b := host.Get()
	b.Length = len(b.Data)
	b.Flags = hw.FlagEOS
	if err := in.SendBuffer(b); err != nil {
		t.Fatal(err)
	}
	if host.Len() != 2 {
		t.Errorf("expected input buffer returned to host pool, got %d", host.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := c2.Queue().Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Length != hw.EncodingRGBA.FrameSize(32, 32) {
		t.Errorf("unexpected payload length %d", out.Length)
	}
}

func TestFailureInjection(t *testing.T) {
	boom := errors.New("boom")
	f := New(Config{
		Fail: func(op Op, name string) error {
			if op == OpCreate && strings.HasPrefix(name, "isp") {
				return boom
			}
			return nil
		},
	})

	if _, err := f.CreateComponent(hw.KindCamera); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := f.CreateComponent(hw.KindConverter)
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if f.Components() != 1 {
		t.Errorf("expected 1 live component, got %d", f.Components())
	}
}

func TestCommitFormatValidation(t *testing.T) {
	f := New(Config{Cameras: []hw.CameraInfo{{Index: 0, MaxWidth: 640, MaxHeight: 480}}})
	cam, _ := f.CreateComponent(hw.KindCamera)
	_ = cam.Control().SetCameraNum(0)

	tests := []struct {
		name    string
		format  hw.Format
		wantErr bool
	}{
		{"within sensor", hw.AlignedFormat(hw.EncodingOpaque, 640, 480), false},
		{"wider than sensor", hw.AlignedFormat(hw.EncodingOpaque, 1280, 480), true},
		{"zero size", hw.Format{Encoding: hw.EncodingRGBA}, true},
		{"crop outside buffer", hw.Format{Encoding: hw.EncodingRGBA, Width: 32, Height: 16, Crop: hw.Rect{Width: 64, Height: 16}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cam.Output(0).CommitFormat(tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("CommitFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, hw.ErrInvalidFormat) {
				t.Errorf("expected ErrInvalidFormat, got %v", err)
			}
		})
	}
}

func TestQueueWaitHonoursContext(t *testing.T) {
	q := newQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDestroyRequiresDisconnectedPorts(t *testing.T) {
	f := New(Config{})
	conn := chain(t, f, hw.CameraPreviewPort)
	render := conn.In().Component()

	if err := render.Destroy(); err == nil {
		t.Fatal("expected destroy of connected component to fail")
	}
	if err := conn.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := render.Destroy(); err != nil {
		t.Fatal(err)
	}
	if f.Components() != 3 {
		t.Errorf("expected 3 live components, got %d", f.Components())
	}
}
