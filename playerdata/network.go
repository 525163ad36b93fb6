package playerdata

import (
	"context"

	"github.com/c360/networker/bridge"
	"github.com/c360/networker/channel"
	"github.com/c360/networker/errors"
	"github.com/c360/networker/message"
	"github.com/c360/networker/router"
)

// Channel tokens and the bridge name used by Serve
const (
	TokenUpdateMoney   channel.Token = "Update Money"
	TokenSaved         channel.Token = "datastore.saved"
	TokenNotification  channel.Token = "notification"
	TokenGetBalance    channel.Token = "get-balance"
	TokenGetPlayerData channel.Token = "get-player-data"

	DetailsBridge = "Get Player Details"

	// SavedNotice is the notification text sent after a save
	SavedNotice = "Your data has been auto-saved."
)

type (
	moneyEvent  = router.Event[message.Empty, message.Int]
	savedEvent  = router.Event[message.Empty, message.Empty]
	noticeEvent = router.Event[message.Empty, message.Text]
)

// Serve connects sessions to a started server router. Sessions open when a
// peer joins and close when it leaves. Money changes and saves are pushed to
// the owning client, and the DetailsBridge answers with live Details.
func Serve(ctx context.Context, r *router.Router, s *Sessions) error {
	if err := channel.Require(r.Role(), channel.RoleServer, "playerdata", "Serve"); err != nil {
		return err
	}

	money, err := router.GetEvent[message.Empty, message.Int](ctx, r, TokenUpdateMoney)
	if err != nil {
		return errors.Wrap(err, "playerdata", "Serve", "open "+string(TokenUpdateMoney))
	}
	saved, err := router.GetEvent[message.Empty, message.Empty](ctx, r, TokenSaved)
	if err != nil {
		return errors.Wrap(err, "playerdata", "Serve", "open "+string(TokenSaved))
	}
	notice, err := router.GetEvent[message.Empty, message.Text](ctx, r, TokenNotification)
	if err != nil {
		return errors.Wrap(err, "playerdata", "Serve", "open "+string(TokenNotification))
	}
	balance, err := router.GetFunction[message.Empty, message.Int, message.Empty, message.Empty](ctx, r, TokenGetBalance)
	if err != nil {
		return errors.Wrap(err, "playerdata", "Serve", "open "+string(TokenGetBalance))
	}
	snapshot, err := router.GetFunction[message.Empty, Data, message.Empty, message.Empty](ctx, r, TokenGetPlayerData)
	if err != nil {
		return errors.Wrap(err, "playerdata", "Serve", "open "+string(TokenGetPlayerData))
	}
	details, err := bridge.Named[channel.PeerID, *Details](DetailsBridge)
	if err != nil {
		return err
	}

	pushCtx := context.WithoutCancel(ctx)
	s.OnOpened(func(d *Details) { watchMoney(pushCtx, s, money, d) })
	s.OnSaved(func(d *Details) { announceSave(pushCtx, s, saved, notice, d.Peer()) })

	if err := balance.SetServerCallback(func(ctx context.Context, from channel.PeerID, _ message.Empty) (message.Int, error) {
		d, err := s.Wait(ctx, from)
		if err != nil {
			return message.Int{}, err
		}
		return message.NewInt(int64(d.Snapshot().Money)), nil
	}); err != nil {
		return err
	}
	if err := snapshot.SetServerCallback(func(ctx context.Context, from channel.PeerID, _ message.Empty) (Data, error) {
		d, err := s.Wait(ctx, from)
		if err != nil {
			return Data{}, err
		}
		return d.Snapshot(), nil
	}); err != nil {
		return err
	}
	details.SetCrossCallback(func(peer channel.PeerID) *Details {
		d, _ := s.Get(peer)
		return d
	})

	if _, err := r.OnPeerJoined(func(ctx context.Context, peer channel.PeerID) {
		if _, err := s.Open(ctx, peer); err != nil {
			s.logger.Error("Failed to load player data", "peer", peer, "error", err)
		}
	}); err != nil {
		return err
	}
	if _, err := r.OnPeerLeaving(func(ctx context.Context, peer channel.PeerID) {
		_ = s.Close(ctx, peer)
	}); err != nil {
		return err
	}

	// Peers that joined before Serve ran
	for _, peer := range r.Peers() {
		if _, err := s.Open(ctx, peer); err != nil {
			s.logger.Error("Failed to load player data", "peer", peer, "error", err)
		}
	}
	return nil
}

func watchMoney(ctx context.Context, s *Sessions, ev *moneyEvent, d *Details) {
	d.OnChanged(func(field string, _, value any) {
		if field != FieldMoney {
			return
		}
		if err := ev.FireClient(ctx, d.Peer(), message.NewInt(int64(value.(int)))); err != nil {
			s.logger.Warn("Failed to push money update", "peer", d.Peer(), "error", err)
		}
	})
}

func announceSave(ctx context.Context, s *Sessions, saved *savedEvent, notice *noticeEvent, peer channel.PeerID) {
	if err := saved.FireClient(ctx, peer, message.Empty{}); err != nil {
		s.logger.Warn("Failed to send save signal", "peer", peer, "error", err)
	}
	if err := notice.FireClient(ctx, peer, message.NewText(SavedNotice)); err != nil {
		s.logger.Warn("Failed to send save notice", "peer", peer, "error", err)
	}
}
