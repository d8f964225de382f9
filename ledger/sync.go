package ledger

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/model"
)

// GetChannelAndThreadUpdatesForSync is the pull-based replication protocol:
// everything the client is missing, channel and thread updates interleaved
// in creation order. Thread lifecycles fully closed before the sync point
// are excluded.
func (s *Service) GetChannelAndThreadUpdatesForSync(ctx context.Context, user string, lastChanTx, lastThreadUpdateID uint64) ([]common.SyncItem, error) {
	var (
		chanUpdates   []model.ChannelUpdate
		threadUpdates []model.ThreadState
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chanUpdates, err = s.dao.UpdatesAfter(s.dao.DB().WithContext(gctx), user, lastChanTx)
		return err
	})
	g.Go(func() error {
		var err error
		threadUpdates, err = s.dao.ThreadUpdatesAfter(s.dao.DB().WithContext(gctx), user, lastThreadUpdateID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return interleaveSyncItems(chanUpdates, threadUpdates), nil
}

// interleaveSyncItems merges the two streams by creation time, channel
// updates first on ties (a thread row is never older than the channel
// update that produced it).
func interleaveSyncItems(chanUpdates []model.ChannelUpdate, threadUpdates []model.ThreadState) []common.SyncItem {
	out := make([]common.SyncItem, 0, len(chanUpdates)+len(threadUpdates))

	i, j := 0, 0
	for i < len(chanUpdates) && j < len(threadUpdates) {
		if chanUpdates[i].CreatedAt.After(threadUpdates[j].CreatedAt) {
			out = append(out, common.SyncItem{Type: common.SyncItemThread, ThreadUpdate: threadUpdates[j]})
			j++
		} else {
			out = append(out, common.SyncItem{Type: common.SyncItemChannel, ChannelUpdate: chanUpdates[i]})
			i++
		}
	}
	for ; i < len(chanUpdates); i++ {
		out = append(out, common.SyncItem{Type: common.SyncItemChannel, ChannelUpdate: chanUpdates[i]})
	}
	for ; j < len(threadUpdates); j++ {
		out = append(out, common.SyncItem{Type: common.SyncItemThread, ThreadUpdate: threadUpdates[j]})
	}
	return out
}
