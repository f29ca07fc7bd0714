package runtime

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionRollbackDiscardsPending(t *testing.T) {
	tx := newTransaction(nil)

	require.NoError(t, tx.dispatch(context.Background(),
		outgoing{topic: "a", msg: message.NewMessage("1", nil)},
		outgoing{topic: "b", msg: message.NewMessage("2", nil)},
	))

	assert.Equal(t, 2, tx.rollback())
	assert.Zero(t, tx.rollback())
	// nothing is left to release, so commit never reaches the bus
	assert.NoError(t, tx.commit(context.Background()))
}

func TestTransactionCommitWithoutMessages(t *testing.T) {
	tx := newTransaction(nil)
	assert.NoError(t, tx.commit(context.Background()))
}
