package broker

import "fmt"

const artemisDomain = "org.apache.activemq.artemis"

// Routing types understood by the broker.
const (
	RoutingAnycast   = "anycast"
	RoutingMulticast = "multicast"
)

// ValidRoutingType reports whether rt is a routing type the broker knows.
func ValidRoutingType(rt string) bool {
	return rt == RoutingAnycast || rt == RoutingMulticast
}

// BrokerMBean returns the management-object name of the broker itself.
// The quotes are part of the name's key="value" syntax and must survive
// to the bridge.
func BrokerMBean(brokerName string) string {
	return fmt.Sprintf(`%s:broker=%q`, artemisDomain, brokerName)
}

// QueueMBean returns the management-object name of a queue nested under
// its address. Artemis addresses a queue by broker, address (same as the
// queue name here), subcomponent and routing type.
func QueueMBean(brokerName, queueName, routingType string) string {
	return fmt.Sprintf(
		`%s:broker=%q,component=addresses,address=%q,subcomponent=queues,routing-type=%q,queue=%q`,
		artemisDomain, brokerName, queueName, routingType, queueName,
	)
}
