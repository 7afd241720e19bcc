package interrupts

/**
 * Separate package exists mainly in order to avoid cyclic imports
 */

// Interrupt - used to signalize an incoming device interrupt
// to the controller.
type Interrupt struct {
	Vector uint8
	Data   uint64
}

// Trap is panicked by the component that detects a synchronous
// exception (page fault, protection fault, invalid opcode) and
// recovered at the cycle boundary, where it is routed through the
// interrupt controller like any other vector.
type Trap struct {
	Vector uint8
	Addr   uint64
	Msg    string
}

func (t Trap) Error() string {
	return t.Msg
}

// exception vectors:

// INTDivide - divide error. Reserved slot: division by zero does not
// trap on this machine (DIV yields all-ones, MOD the dividend).
const INTDivide = 0

// INTInval - invalid or malformed opcode
const INTInval = 6

// INTProt - protection fault (write to read-only page, user access
// to a supervisor page)
const INTProt = 13

// INTFault - page not present at some level of the walk
const INTFault = 14

/********************************
 * device vectors:
 ********************************/

// INTClock : cycle-compare timer match
const INTClock = 32

// INTTtyIn : a character arrived on the UART input queue
const INTTtyIn = 33

// INTDisk : block device command completion
const INTDisk = 34

// INTSyscall : SYSCALL instruction
const INTSyscall = 0x80

// NumVectors is the size of the vector table.
const NumVectors = 256
