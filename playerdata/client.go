package playerdata

import (
	"context"
	"time"

	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
	"github.com/c360/networker/message"
	"github.com/c360/networker/router"
)

// Watchers receives the pushes Serve sends to a client. Nil fields are skipped.
type Watchers struct {
	Money  func(money int64)
	Saved  func()
	Notice func(text string)
}

// Watch subscribes a started client router to its own player data pushes
func Watch(ctx context.Context, r *router.Router, w Watchers) error {
	if err := channel.Require(r.Role(), channel.RoleClient, "playerdata", "Watch"); err != nil {
		return err
	}

	if w.Money != nil {
		ev, err := router.GetEvent[message.Empty, message.Int](ctx, r, TokenUpdateMoney)
		if err != nil {
			return errors.Wrap(err, "playerdata", "Watch", "open "+string(TokenUpdateMoney))
		}
		if _, err := ev.OnClientFired(func(_ context.Context, msg message.Int) { w.Money(msg.Value) }); err != nil {
			return err
		}
	}
	if w.Saved != nil {
		ev, err := router.GetEvent[message.Empty, message.Empty](ctx, r, TokenSaved)
		if err != nil {
			return errors.Wrap(err, "playerdata", "Watch", "open "+string(TokenSaved))
		}
		if _, err := ev.OnClientFired(func(context.Context, message.Empty) { w.Saved() }); err != nil {
			return err
		}
	}
	if w.Notice != nil {
		ev, err := router.GetEvent[message.Empty, message.Text](ctx, r, TokenNotification)
		if err != nil {
			return errors.Wrap(err, "playerdata", "Watch", "open "+string(TokenNotification))
		}
		if _, err := ev.OnClientFired(func(_ context.Context, msg message.Text) { w.Notice(msg.Value) }); err != nil {
			return err
		}
	}
	return nil
}

// Balance asks the server for the caller's money
func Balance(ctx context.Context, r *router.Router, timeout time.Duration) (int64, error) {
	fn, err := router.GetFunction[message.Empty, message.Int, message.Empty, message.Empty](ctx, r, TokenGetBalance)
	if err != nil {
		return 0, err
	}
	resp, err := fn.InvokeServer(ctx, timeout, message.Empty{})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// Fetch asks the server for a snapshot of the caller's data
func Fetch(ctx context.Context, r *router.Router, timeout time.Duration) (Data, error) {
	fn, err := router.GetFunction[message.Empty, Data, message.Empty, message.Empty](ctx, r, TokenGetPlayerData)
	if err != nil {
		return Data{}, err
	}
	return fn.InvokeServer(ctx, timeout, message.Empty{})
}
