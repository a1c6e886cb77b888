package emulator

import "github.com/sapio-lang/sapio/contract"

var (
	_ contract.Emulator = Identity{}
	_ contract.Emulator = (*HDEmulator)(nil)
	_ contract.Emulator = (*HDEmulatorClient)(nil)
	_ contract.Emulator = (*Federated)(nil)
)
