package sim

import (
	"context"
	"io"
	"time"

	"escore/command"
	"escore/core"
)

// Serve runs the simulation in real time behind the serial link: bytes
// read from port are fed to the command server between simulation slices,
// so commands run in the same context as the controller. speed scales
// simulated time against wall time. Serve returns when ctx is done or the
// port fails.
func Serve(ctx context.Context, r *Runner, port io.ReadWriter, speed float64) error {
	if speed <= 0 {
		speed = 1
	}
	srv := command.NewServer(command.NewESC(r.Controller, r.Fast, r.Slow), port)

	rx := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			buf := make([]byte, 64)
			n, err := port.Read(buf)
			if n > 0 {
				select {
				case rx <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	const slice = time.Millisecond
	ticker := time.NewTicker(slice)
	defer ticker.Stop()
	simSlice := time.Duration(float64(slice) * speed)

	for {
		select {
		case <-ctx.Done():
			r.Controller.Stop()
			return nil
		case err := <-readErr:
			r.Controller.Stop()
			return err
		case <-ticker.C:
		}

		r.Run(simSlice)
	drain:
		for {
			select {
			case b := <-rx:
				for {
					b = b[srv.Feed(b):]
					if len(b) == 0 {
						break
					}
					if err := srv.Poll(); err != nil {
						return err
					}
				}
			default:
				break drain
			}
		}
		if err := srv.Poll(); err != nil {
			core.LogWarn("sim: link write failed: " + err.Error())
			return err
		}
	}
}
