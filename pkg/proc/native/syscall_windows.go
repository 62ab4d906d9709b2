//go:build windows && (amd64 || 386)

package native

//go:generate go run golang.org/x/sys/windows/mkwinsyscall -output zsyscall_windows.go syscall_windows.go

import (
	"golang.org/x/sys/windows"
)

type _CREATE_PROCESS_DEBUG_INFO struct {
	File                windows.Handle
	Process             windows.Handle
	Thread              windows.Handle
	BaseOfImage         uintptr
	DebugInfoFileOffset uint32
	DebugInfoSize       uint32
	ThreadLocalBase     uintptr
	StartAddress        uintptr
	ImageName           uintptr
	Unicode             uint16
}

type _EXIT_PROCESS_DEBUG_INFO struct {
	ExitCode uint32
}

type _LOAD_DLL_DEBUG_INFO struct {
	File                windows.Handle
	BaseOfDll           uintptr
	DebugInfoFileOffset uint32
	DebugInfoSize       uint32
	ImageName           uintptr
	Unicode             uint16
}

type _EXCEPTION_DEBUG_INFO struct {
	ExceptionRecord _EXCEPTION_RECORD
	FirstChance     uint32
}

type _EXCEPTION_RECORD struct {
	ExceptionCode        uint32
	ExceptionFlags       uint32
	ExceptionRecord      *_EXCEPTION_RECORD
	ExceptionAddress     uintptr
	NumberParameters     uint32
	ExceptionInformation [_EXCEPTION_MAXIMUM_PARAMETERS]uintptr
}

const (
	_DBG_CONTINUE              = 0x00010002
	_DBG_EXCEPTION_NOT_HANDLED = 0x80010001

	_EXCEPTION_DEBUG_EVENT      = 1
	_CREATE_THREAD_DEBUG_EVENT  = 2
	_CREATE_PROCESS_DEBUG_EVENT = 3
	_EXIT_THREAD_DEBUG_EVENT    = 4
	_EXIT_PROCESS_DEBUG_EVENT   = 5
	_LOAD_DLL_DEBUG_EVENT       = 6
	_UNLOAD_DLL_DEBUG_EVENT     = 7
	_OUTPUT_DEBUG_STRING_EVENT  = 8
	_RIP_EVENT                  = 9

	_EXCEPTION_BREAKPOINT     = 0x80000003
	_EXCEPTION_SINGLE_STEP    = 0x80000004
	_EXCEPTION_STACK_OVERFLOW = 0xC00000FD
	_STATUS_WX86_BREAKPOINT   = 0x4000001F
	_STATUS_WX86_SINGLE_STEP  = 0x4000001E
	_MS_VC_EXCEPTION          = 0x406D1388
	_CXX_EH_EXCEPTION         = 0xE06D7363
	_RPC_S_SERVER_UNAVAILABLE = 0x6BA

	_EXCEPTION_MAXIMUM_PARAMETERS = 15

	_PROCESS_ALL_ACCESS = 0x001FFFFF

	_THREAD_SUSPEND_RESUME    = 0x0002
	_THREAD_GET_CONTEXT       = 0x0008
	_THREAD_SET_CONTEXT       = 0x0010
	_THREAD_QUERY_INFORMATION = 0x0040

	_INFINITE = 0xFFFFFFFF
)

//sys	_DebugActiveProcess(processid uint32) (err error) = kernel32.DebugActiveProcess
//sys	_DebugActiveProcessStop(processid uint32) (err error) = kernel32.DebugActiveProcessStop
//sys	_DebugBreakProcess(process windows.Handle) (err error) = kernel32.DebugBreakProcess
//sys	_WaitForDebugEvent(debugevent *_DEBUG_EVENT, milliseconds uint32) (err error) = kernel32.WaitForDebugEvent
//sys	_ContinueDebugEvent(processid uint32, threadid uint32, continuestatus uint32) (err error) = kernel32.ContinueDebugEvent
//sys	_ReadProcessMemory(process windows.Handle, baseaddr uintptr, buffer *byte, size uintptr, bytesread *uintptr) (err error) = kernel32.ReadProcessMemory
//sys	_WriteProcessMemory(process windows.Handle, baseaddr uintptr, buffer *byte, size uintptr, byteswritten *uintptr) (err error) = kernel32.WriteProcessMemory
//sys	_FlushInstructionCache(process windows.Handle, baseaddr uintptr, size uintptr) (err error) = kernel32.FlushInstructionCache
//sys	_OpenThread(access uint32, inherit bool, threadid uint32) (handle windows.Handle, err error) = kernel32.OpenThread
//sys	_GetThreadContext(thread windows.Handle, context *byte) (err error) = kernel32.GetThreadContext
//sys	_SetThreadContext(thread windows.Handle, context *byte) (err error) = kernel32.SetThreadContext
//sys	_Wow64GetThreadContext(thread windows.Handle, context *byte) (err error) = kernel32.Wow64GetThreadContext
//sys	_Wow64SetThreadContext(thread windows.Handle, context *byte) (err error) = kernel32.Wow64SetThreadContext
