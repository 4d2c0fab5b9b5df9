package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"qr-shutter-pi/pkg/camera"
	"qr-shutter-pi/pkg/decode"
	"qr-shutter-pi/pkg/device/sim"
	"qr-shutter-pi/pkg/device/v4l"
	"qr-shutter-pi/pkg/storage"
	"qr-shutter-pi/pkg/utils"
)

// stdoutListener prints symbols and notices as they arrive.
type stdoutListener struct {
	found chan string
}

func (l *stdoutListener) OnFound(text string) {
	select {
	case l.found <- text:
	default:
	}
}

func (l *stdoutListener) OnExposureRangeLoaded(divisors []int, idx int) {
	fmt.Printf("exposure 1/%v (default index %d)\n", divisors, idx)
}

func (l *stdoutListener) OnIsoRangeLoaded(values []int, idx int) {
	fmt.Printf("iso %v (default index %d)\n", values, idx)
}

func (l *stdoutListener) OnNotice(n camera.Notice) {
	fmt.Fprintln(os.Stderr, n)
}

func main() {
	devName := flag.String("dev", v4l.DefaultDevice, "video device path")
	useSim := flag.Bool("sim", false, "use the simulated camera")
	payload := flag.String("payload", "qr-shutter-pi", "simulated QR payload")
	shots := flag.Int("shots", 0, "take this many stills instead of scanning")
	dir := flag.String("dir", "./qr-shutter", "stills directory")
	n := flag.Int("n", 1, "symbols to print before exiting")
	timeout := flag.Duration("timeout", 30*time.Second, "give up after")
	flag.Parse()
	_ = utils.SetLevel("warn")

	var dev camera.Device = v4l.New(*devName)
	if *useSim {
		dev = sim.New(sim.Config{Payload: *payload})
	}
	stg, err := storage.New(*dir)
	if err != nil {
		log.Fatal(err)
	}

	l := &stdoutListener{found: make(chan string, 1)}
	mgr := camera.NewManager(camera.Options{
		Device:   dev,
		Decoder:  decode.NewQR(true),
		Listener: l,
		Stills:   stg,
		Viewport: camera.Size{Width: 1280, Height: 960},
	})

	ctx, cancel := utils.SignalContext(context.Background())
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	if err := mgr.Resume(ctx); err != nil {
		log.Fatalf("open camera: %s", err)
	}
	defer mgr.Pause()
	if !waitReady(ctx, mgr) {
		log.Fatal("camera did not become ready")
	}

	if *shots > 0 {
		shoot(ctx, mgr, stg, *shots)
		return
	}

	if err := mgr.ChangeMode(camera.ModeScan); err != nil {
		log.Fatal(err)
	}
	for i := 0; i < *n; i++ {
		select {
		case text := <-l.found:
			fmt.Println(text)
		case <-ctx.Done():
			log.Printf("stopped after %d symbols: %s", i, ctx.Err())
			return
		}
	}
}

func waitReady(ctx context.Context, mgr *camera.Manager) bool {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for mgr.Lifecycle() != camera.LifecycleReady {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
	return true
}

// shoot takes count stills one after another, waiting for each to be stored.
func shoot(ctx context.Context, mgr *camera.Manager, stg *storage.Storage, count int) {
	for i := 1; i <= count; i++ {
		before, err := stg.Info()
		if err != nil {
			log.Fatal(err)
		}
		if err := mgr.TakePicture(); err != nil {
			log.Fatalf("take picture %d: %s", i, err)
		}

		t := time.NewTicker(50 * time.Millisecond)
		for {
			info, err := stg.Info()
			if err == nil && info.Count > before.Count {
				fmt.Printf("still %d: %s\n", i, info.LatestImage)
				break
			}
			select {
			case <-ctx.Done():
				t.Stop()
				log.Fatalf("still %d: %s", i, ctx.Err())
			case <-t.C:
			}
		}
		t.Stop()
		// the next sequence needs the state machine back in preview
		for {
			st, err := mgr.Status()
			if err != nil || st.State == camera.StatePreview.String() {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
}
