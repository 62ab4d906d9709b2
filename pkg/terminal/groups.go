package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	sessionCmds
	runCmds
	dataCmds
	scriptCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Attaching to processes", sessionCmds},
	{"Controlling the execution", runCmds},
	{"Viewing and changing memory and registers", dataCmds},
	{"Scripting", scriptCmds},
	{"Other commands", otherCmds},
}
