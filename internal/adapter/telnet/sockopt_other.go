//go:build !linux

package telnet

import "net"

func listenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
