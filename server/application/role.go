package application

// NetRole はアクターのネットワーク上の役割です。
type NetRole uint8

const (
	RoleNone NetRole = iota
	RoleSimulatedProxy
	RoleAutonomousProxy
	RoleAuthority
)

func (r NetRole) String() string {
	switch r {
	case RoleSimulatedProxy:
		return "SimulatedProxy"
	case RoleAutonomousProxy:
		return "AutonomousProxy"
	case RoleAuthority:
		return "Authority"
	default:
		return "None"
	}
}

// Remote は接続の反対側から見た役割を返します。
// authorityのアクターは相手側ではSimulatedProxyとして見え、replicaの相手は常にauthorityです。
func (r NetRole) Remote() NetRole {
	switch r {
	case RoleAuthority:
		return RoleSimulatedProxy
	case RoleSimulatedProxy, RoleAutonomousProxy:
		return RoleAuthority
	default:
		return RoleNone
	}
}
