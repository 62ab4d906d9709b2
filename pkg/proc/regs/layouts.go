package regs

// Linux, ptrace user area.
//
// The general area is struct user_regs_struct as returned by
// PTRACE_GETREGS, the debug area is the u_debugreg array of struct user
// (eight words, DR4 and DR5 are reserved) and the vector area is the FXSAVE
// image returned by PTRACE_GETFPREGS.

const (
	// LinuxAMD64DebugRegOffset is the offset of u_debugreg in struct user on amd64.
	LinuxAMD64DebugRegOffset = 848
	// Linux386DebugRegOffset is the offset of u_debugreg in struct user on 386.
	Linux386DebugRegOffset = 252

	// fxsaveXMM0 is the offset of xmm0 inside an FXSAVE image.
	fxsaveXMM0 = 160
)

var LinuxAMD64 = &Layout{
	Name:    "linux/amd64",
	PtrSize: 8,
	Fields: [NumRegisters]Field{
		SP:     {AreaGeneral, 152, 8},
		FP:     {AreaGeneral, 32, 8},
		IP:     {AreaGeneral, 128, 8},
		Flags:  {AreaGeneral, 144, 8},
		DR0:    {AreaDebug, 0, 8},
		DR1:    {AreaDebug, 8, 8},
		DR2:    {AreaDebug, 16, 8},
		DR3:    {AreaDebug, 24, 8},
		DR6:    {AreaDebug, 48, 8},
		DR7:    {AreaDebug, 56, 8},
		GPR:    {AreaGeneral, 80, 8},
		Vector: {AreaVector, fxsaveXMM0, 8},
	},
}

var Linux386 = &Layout{
	Name:    "linux/386",
	PtrSize: 4,
	Fields: [NumRegisters]Field{
		SP:    {AreaGeneral, 60, 4},
		FP:    {AreaGeneral, 20, 4},
		IP:    {AreaGeneral, 48, 4},
		Flags: {AreaGeneral, 56, 4},
		DR0:   {AreaDebug, 0, 4},
		DR1:   {AreaDebug, 4, 4},
		DR2:   {AreaDebug, 8, 4},
		DR3:   {AreaDebug, 12, 4},
		DR6:   {AreaDebug, 24, 4},
		DR7:   {AreaDebug, 28, 4},
		GPR:   {AreaGeneral, 24, 4},
	},
}

// Windows, thread CONTEXT.
//
// The whole CONTEXT structure is a single general area: GetThreadContext
// and SetThreadContext transfer it in one call.

const (
	// WindowsAMD64ContextSize is sizeof(CONTEXT) on amd64.
	WindowsAMD64ContextSize = 1232
	// WindowsAMD64ContextFlagsOffset is the offset of CONTEXT.ContextFlags on amd64.
	WindowsAMD64ContextFlagsOffset = 48
	// WindowsX86ContextSize is sizeof(WOW64_CONTEXT), which is also CONTEXT on 386.
	WindowsX86ContextSize = 716
	// WindowsX86ContextFlagsOffset is the offset of ContextFlags in WOW64_CONTEXT.
	WindowsX86ContextFlagsOffset = 0
)

var WindowsAMD64 = &Layout{
	Name:    "windows/amd64",
	PtrSize: 8,
	Fields: [NumRegisters]Field{
		SP:     {AreaGeneral, 152, 8},
		FP:     {AreaGeneral, 160, 8},
		IP:     {AreaGeneral, 248, 8},
		Flags:  {AreaGeneral, 68, 4},
		DR0:    {AreaGeneral, 72, 8},
		DR1:    {AreaGeneral, 80, 8},
		DR2:    {AreaGeneral, 88, 8},
		DR3:    {AreaGeneral, 96, 8},
		DR6:    {AreaGeneral, 104, 8},
		DR7:    {AreaGeneral, 112, 8},
		GPR:    {AreaGeneral, 120, 8},
		Vector: {AreaGeneral, 256 + fxsaveXMM0, 8}, // FltSave.XmmRegisters[0].Low
	},
}

// WindowsWOW64 is the WOW64_CONTEXT of a 32 bit thread observed by a 64
// bit debugger. The extended register area is not mapped.
var WindowsWOW64 = &Layout{
	Name:    "windows/wow64",
	PtrSize: 4,
	Fields: [NumRegisters]Field{
		SP:    {AreaGeneral, 196, 4},
		FP:    {AreaGeneral, 180, 4},
		IP:    {AreaGeneral, 184, 4},
		Flags: {AreaGeneral, 192, 4},
		DR0:   {AreaGeneral, 4, 4},
		DR1:   {AreaGeneral, 8, 4},
		DR2:   {AreaGeneral, 12, 4},
		DR3:   {AreaGeneral, 16, 4},
		DR6:   {AreaGeneral, 20, 4},
		DR7:   {AreaGeneral, 24, 4},
		GPR:   {AreaGeneral, 176, 4},
	},
}

// Windows386 is the native CONTEXT on 386, xmm0 is read from the FXSAVE
// image stored in ExtendedRegisters.
var Windows386 = func() *Layout {
	l := *WindowsWOW64
	l.Name = "windows/386"
	l.Fields[Vector] = Field{AreaGeneral, 204 + fxsaveXMM0, 4}
	return &l
}()
