package naming

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

type RuleEngineCommand struct{}

func (RuleEngineCommand) MessageNamespace() string { return "Lpa.Capmatix.KidCalcService.Contracts" }

type pointerNamespaced struct{}

func (*pointerNamespaced) MessageNamespace() string { return "Ptr.Ns" }

type plainEvent struct{}

func TestKebabCase(t *testing.T) {
	cases := map[string]string{
		"RuleEngineCommand": "rule-engine-command",
		"HTTPServerStarted": "http-server-started",
		"OrderID":           "order-id",
		"order_created.v2":  "order-created-v2",
		"Job 42 Done":       "job-42-done",
		"already-kebab":     "already-kebab",
		"Version2Upgrade":   "version2-upgrade",
		"  __Trim__  ":      "trim",
		"":                  "",
		"scheduler":         "scheduler",
		"ABC":               "abc",
	}
	for in, want := range cases {
		assert.Equal(t, want, KebabCase(in), in)
	}
}

func TestEndpointName(t *testing.T) {
	assert.Equal(t, "rule-engine-command", EndpointName("RuleEngineCommandConsumer"))
	assert.Equal(t, "order-state", EndpointName("OrderStateMachine"))
	assert.Equal(t, "calculate-kid", EndpointName("CalculateKidActivity"))
	assert.Equal(t, "consumer", EndpointName("Consumer"))
	assert.Equal(t, "billing", EndpointName("billing"))
}

func TestTrimRoleSuffix(t *testing.T) {
	assert.Equal(t, "Shipping", TrimRoleSuffix("ShippingStateMachine"))
	assert.Equal(t, "Audit", TrimRoleSuffix(" AuditConsumer "))
	assert.Equal(t, "Order", TrimRoleSuffix("OrderSaga"))
	assert.Equal(t, "Saga", TrimRoleSuffix("Saga"))
	assert.Equal(t, "ConsumerGroup", TrimRoleSuffix("ConsumerGroup"))
}

func TestMessageURN(t *testing.T) {
	assert.Equal(t,
		"urn:message:Lpa.Capmatix.KidCalcService.Contracts:RuleEngineCommand",
		URNFor[RuleEngineCommand]())
	assert.Equal(t, "urn:message:Ptr.Ns:pointerNamespaced", MessageURN(reflect.TypeOf(&pointerNamespaced{})))
	assert.Equal(t,
		"github.com.drblury.busworker.internal.runtime.naming:plainEvent",
		QualifiedName(reflect.TypeOf(plainEvent{})))
	assert.Equal(t, "", MessageURN(reflect.TypeOf([]int{})))
}

func TestQualifiedNameFromURN(t *testing.T) {
	assert.Equal(t, "Ns:Cmd", QualifiedNameFromURN("urn:message:Ns:Cmd"))
	assert.Equal(t, "Ns:Cmd", QualifiedNameFromURN("Ns:Cmd"))
}
