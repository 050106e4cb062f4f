// canvas_bot 无界面的画图客户端：连上房间后按固定速率随机画线，偶尔撤销。
// 用于压测和演示重连/追平。
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"canvasService/backend/config"
	"canvasService/backend/internal/canvas"
	"canvasService/backend/internal/client"
	"canvasService/backend/internal/session"
)

type logRenderer struct{ user string }

// 机器人没有画布，逐点的实时绘制不打日志
func (r logRenderer) DrawStroke(canvas.PathData) {}

func (r logRenderer) DrawPath(p canvas.PathData) {
	log.Printf("[%s] draw path from %s (%d points)", r.user, p.UserID, len(p.Points))
}

func (r logRenderer) Redraw(stack []canvas.PathData) {
	log.Printf("[%s] redraw %d paths", r.user, len(stack))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	url := flag.String("url", cfg.Client.URL, "room websocket url")
	strokesPerSec := flag.Float64("rate", 2, "strokes per second")
	points := flag.Int("points", 12, "points per stroke")
	undoEvery := flag.Int("undo-every", 5, "undo after every N strokes (0 = never)")
	flag.Parse()

	uid := uuid.NewString()
	var mgr *client.Manager
	sess := session.New(uid, senderFunc(func(v any) bool { return mgr.Send(v) }), logRenderer{user: uid[:8]})
	mgr = client.NewManager(client.Options{
		URL:         *url,
		BaseBackoff: cfg.Client.BaseBackoff,
		MaxBackoff:  cfg.Client.MaxBackoff,
		MaxAttempts: cfg.Client.MaxAttempts,
	}, sess)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := mgr.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer mgr.Close()
		lim := rate.NewLimiter(rate.Limit(*strokesPerSec), 1)
		n := 0
		for {
			if err := lim.Wait(ctx); err != nil {
				return nil
			}
			if !mgr.Connected() {
				continue
			}
			x, y := rand.Float64()*800, rand.Float64()*600
			for i := 0; i < *points; i++ {
				x += rand.Float64()*20 - 10
				y += rand.Float64()*20 - 10
				sess.BeginOrContinueStroke(canvas.Coord{x, y})
			}
			sess.CommitStroke()
			n++
			if *undoEvery > 0 && n%*undoEvery == 0 {
				sess.Undo()
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("bot stopped: %v", err)
	}
}

type senderFunc func(v any) bool

func (f senderFunc) Send(v any) bool { return f(v) }
