package dao

import (
	"context"
	"encoding/json"
	"time"

	"github.com/connext/indra-sub007/common"
	"github.com/go-redis/redis/v8"
)

// The staging store holds at most one hub-authored, not-yet-user-signed
// proposal per user. It is an existence check with expiry, deliberately
// independent of the relational row lock; it never holds settled balances.

const ProposalTTL = 300 * time.Second

var proposedUpdateKey = "proposed_update"

func BuildProposedUpdateKey(user string) string {
	return proposedUpdateKey + "_" + user
}

// StagedProposal is the unsigned update waiting for the user's signature.
type StagedProposal struct {
	User          string              `json:"user"`
	Reason        common.UpdateReason `json:"reason"`
	Args          json.RawMessage     `json:"args"`
	TxCountGlobal uint64              `json:"txCountGlobal"`
	SigHub        string              `json:"sigHub"`
	CreatedAt     int64               `json:"createdAt"`
}

// StageProposal stores p unless a proposal is already staged for the user.
// Returns false when it lost to an existing entry.
func (d *Dao) StageProposal(ctx context.Context, p *StagedProposal) (bool, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return false, err
	}
	return d.rds.SetNX(ctx, BuildProposedUpdateKey(p.User), string(raw), ProposalTTL).Result()
}

func (d *Dao) GetStagedProposal(ctx context.Context, user string) (*StagedProposal, error) {
	raw, err := d.rds.Get(ctx, BuildProposedUpdateKey(user)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p StagedProposal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *Dao) ClearStagedProposal(ctx context.Context, user string) error {
	return d.rds.Del(ctx, BuildProposedUpdateKey(user)).Err()
}
