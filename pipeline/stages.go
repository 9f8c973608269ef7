package pipeline

// The six stage builders. Stage composition depends on the compile
// configuration (CPU code generation skips device mapping and outlining) and
// on the resolved backend (AMD fixups, device dialect).

func stageTFToLoops() *Stage {
	return &Stage{
		Name:           "tf-to-loops",
		FailureMessage: "Lowering TF to loops failed.",
		Steps: []Step{
			newAllowlistStep(),
			newLegalizeTFStep(),
			newFuseMapsStep(),
			newCleanupStep(),
		},
	}
}

func stageLoopsToGPUOrCPU(config Config) *Stage {
	steps := []Step{
		newBufferizeStep(),
		newLowerLinalgToLoopsStep(),
		newApproximateTanhStep(),
		newCollapseParallelLoopsStep(),
		newTileParallelLoopsStep(config.TileSizes, config.UnrollFactors),
		newCleanupStep(),
	}
	if !config.CPUCodegen {
		steps = append(steps, newMapLoopsToHardwareStep())
	}
	steps = append(steps,
		newPromoteBuffersStep(),
		newLowerShapeConstraintsStep(),
	)
	if !config.CPUCodegen {
		steps = append(steps, newOutlineKernelsStep())
	}
	steps = append(steps, newBufferReuseStep())
	if config.EmbedMemrefPrints {
		steps = append(steps, newEmbedPrintsStep())
	}
	steps = append(steps, newCleanupStep())
	return &Stage{
		Name:           "loops-to-gpu-or-cpu",
		FailureMessage: "Lowering to GPU kernels failed.",
		Steps:          steps,
	}
}

func stageAMDFixups() *Stage {
	return &Stage{
		Name:           "amd-fixups",
		FailureMessage: "Failed to apply AMD specific transforms.",
		Steps:          []Step{newAMDFixupsStep()},
	}
}

func stageKernelToLowLevel(deviceDialect string) *Stage {
	return &Stage{
		Name:           "kernel-to-low-level",
		FailureMessage: "Lowering to low-level device IR failed.",
		Steps: []Step{
			newLowerKernelCFGStep(),
			newConvertKernelsStep(deviceDialect),
			newStripDebugInfoStep(),
		},
	}
}

func stageStaticKnowledge() *Stage {
	return &Stage{
		Name:           "static-knowledge",
		FailureMessage: "Amending kernels with static knowledge failed.",
		Steps: []Step{
			newAnnotateShapesStep(),
			newAnnotateABIStep(),
		},
	}
}

func stageHostToFinal() *Stage {
	return &Stage{
		Name:           "host-to-final",
		FailureMessage: "Final lowering of host side failed.",
		Steps: []Step{
			newLowerHostRuntimeStep(),
			newCleanupStep(),
		},
	}
}
