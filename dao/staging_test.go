package dao

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/util"
)

// Requires a reachable redis, e.g.
//
//	HUB_TEST_REDIS_ADDR=127.0.0.1:6379 go test ./dao/...
func testRedis(t *testing.T) *redis.Client {
	addr := os.Getenv("HUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HUB_TEST_REDIS_ADDR not set")
	}
	rds := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rds.Ping(context.Background()).Err())
	return rds
}

func TestStageProposalSingleSlot(t *testing.T) {
	rds := testRedis(t)
	defer rds.Close()

	d := NewDao(nil, rds)
	ctx := context.Background()
	user := "0xtest" + util.RandHexStr(8)
	defer d.ClearStagedProposal(ctx, user) //nolint:errcheck

	raw, _ := json.Marshal(&common.DepositArgs{})
	p := &StagedProposal{
		User:          user,
		Reason:        common.ReasonProposePendingDeposit,
		Args:          raw,
		TxCountGlobal: 3,
		SigHub:        "0xsighub",
	}

	ok, err := d.StageProposal(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)

	// second proposal loses the slot
	ok, err = d.StageProposal(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := d.GetStagedProposal(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.Reason, got.Reason)
	assert.Equal(t, uint64(3), got.TxCountGlobal)

	require.NoError(t, d.ClearStagedProposal(ctx, user))

	got, err = d.GetStagedProposal(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, got)

	// the slot frees up after clearing
	ok, err = d.StageProposal(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)
}
