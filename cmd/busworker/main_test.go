package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/busworker"
	"github.com/drblury/busworker/contracts"
)

func TestRulesModuleBindsRuleEngineCommand(t *testing.T) {
	r, err := busworker.NewHandlerRegistry(rulesModule(busworker.NopLogger(), 0))
	require.NoError(t, err)

	desc, err := busworker.NewBusConfigurator(busworker.DefaultConfig(), r, nil, busworker.BusOptions{}).Describe()
	require.NoError(t, err)

	bindings := desc.Bindings()
	require.Len(t, bindings, 1)
	assert.Equal(t, "RuleEngineCommandConsumer", bindings[0].Name)
	assert.Equal(t, "RuleEngineCommand", bindings[0].EndpointBase)
	_, ok := desc.Endpoint("rule-engine-command")
	assert.True(t, ok)
	assert.Equal(t, busworker.MessageURN[contracts.RuleEngineCommand](), bindings[0].WireType)
}

func TestRuleEngineCommandConsumerEndsWithContext(t *testing.T) {
	c := RuleEngineCommandConsumer{logger: busworker.NopLogger(), delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Consume(ctx, &busworker.ConsumeContext[contracts.RuleEngineCommand]{
		Message: contracts.RuleEngineCommand{WorkflowID: 1},
	})
	assert.ErrorIs(t, err, context.Canceled)
}
