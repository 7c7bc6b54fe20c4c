package domain

// StageRuntime selects where a stage command executes.
type StageRuntime string

const (
	// RuntimeToolchain runs the command in a fresh container from the
	// toolchain image built by the build stage, with the repository tree
	// mounted.
	RuntimeToolchain StageRuntime = "toolchain"
	// RuntimeScript runs the command as a host process directly on the
	// checked-out tree (lightweight script steps that need no toolchain).
	RuntimeScript StageRuntime = "script"
)

// Stage is one discrete, independently-failable unit of pipeline work.
// The stage sequence is static and known at design time.
type Stage struct {
	Name    string
	Command []string
	Env     []string // extra KEY=VALUE entries for the stage environment
	Runtime StageRuntime

	// RequiredForCommit marks stages whose success gates the commit stage.
	RequiredForCommit bool
	// AlwaysRun is true only for cleanup.
	AlwaysRun bool
}

// Stage names. Build, commit and cleanup are fixed pipeline phases;
// the rest form the generation sequence.
const (
	StageBuildToolchain   = "build-toolchain"
	StageCompileContracts = "compile-contracts"
	StageCircuitConfig    = "circuit-config"
	StageFmt              = "fmt"
	StageVerifier         = "verifier"
	StageSuperVerifier    = "super-verifier"
	StagePatchGenesis     = "patch-genesis"
	StageCommit           = "commit"
	StageCleanup          = "cleanup"
)

// GenerationStages returns the fixed, ordered generation sequence.
// Ordering is significant: later stages consume files produced by earlier
// ones (verifier generation needs compiled contracts).
//
// evmOnly restricts super-circuit verifier generation to the EVM target.
func GenerationStages(evmOnly bool) []Stage {
	superEnv := []string(nil)
	if evmOnly {
		superEnv = []string{"ONLY_EVM=true"}
	}
	return []Stage{
		{
			Name:              StageCompileContracts,
			Command:           []string{"make", "contracts"},
			Runtime:           RuntimeToolchain,
			RequiredForCommit: true,
		},
		{
			Name:              StageCircuitConfig,
			Command:           []string{"make", "circuit-config"},
			Runtime:           RuntimeToolchain,
			RequiredForCommit: true,
		},
		{
			Name:              StageFmt,
			Command:           []string{"make", "fmt"},
			Runtime:           RuntimeToolchain,
			RequiredForCommit: true,
		},
		{
			// Two sub-targets run as one stage.
			Name:              StageVerifier,
			Command:           []string{"make", "verifier-evm", "verifier-aggregation"},
			Runtime:           RuntimeToolchain,
			RequiredForCommit: true,
		},
		{
			Name:              StageSuperVerifier,
			Command:           []string{"make", "super-verifier"},
			Env:               superEnv,
			Runtime:           RuntimeToolchain,
			RequiredForCommit: true,
		},
		{
			Name:              StagePatchGenesis,
			Command:           []string{"node", "scripts/patch_genesis.mjs"},
			Runtime:           RuntimeScript,
			RequiredForCommit: true,
		},
	}
}
