package raw

func choiceSeg(label, doc string, choices []string, value func(int) interface{}) *Seg {
	return &Seg{
		Doc:     doc,
		Label:   label,
		Default: choices[0],
		Choices: choices,
		Parse: func(a string) (interface{}, error) {
			i, err := choice(a, choices)
			if err != nil {
				return nil, err
			}
			return value(i), nil
		},
	}
}

func initConfigPrefix() *Seg {
	return &Seg{
		Doc: "A string that begins every kernel name and output filename. " +
			identDoc,
		Label:   "Prefix",
		Default: "igemm",
		Parse:   ident,
	}
}

func initConfigArch() *Seg {
	return choiceSeg("Arch",
		"The target GPU. "+ArchStrings[Gfx906]+" has no matrix cores, so only Mac kernels build for it. "+
			ArchStrings[Gfx90a]+" adds accum_offset to the kernel descriptor and uses v_fmac_f32.",
		ArchStrings,
		func(i int) interface{} { return Arch(i) },
	)
}

func initConfigCodeObject() *Seg {
	return choiceSeg("CodeObject",
		"The HSA code object version of the emitted metadata.",
		CodeObjectStrings,
		func(i int) interface{} { return CodeObject(i) },
	)
}

func initConfigMacros() *Seg {
	return choiceSeg("Macros",
		"Whether address and division helpers are defined once as .macro blocks and called by name, "+
			"or expanded at every use.",
		MacroStyleStrings,
		func(i int) interface{} { return MacroStyle(i) },
	)
}

func initConfig() {
	Guide["Config"] = &Tail{
		Doc: "Settings shared by every kernel in the file. Exactly one Config is required.",
		Segs: []*Seg{
			initConfigPrefix(),
			initConfigArch(),
			initConfigCodeObject(),
			initConfigMacros(),
		},
		Parse: func(l int, a []interface{}) Node {
			return &Config{
				LineNum:    l,
				Prefix:     a[0].(string),
				Arch:       a[1].(Arch),
				CodeObject: a[2].(CodeObject),
				Macros:     a[3].(MacroStyle),
			}
		},
	}
}

var nxeStrings = []string{"0", "1"}

var orderStrings = []string{"0", "1"}

func initTunable() {
	Guide["Tunable"] = &Tail{
		Doc: "Begin one forward convolution kernel over NHWC input, KYXC weights and NHWK output. " +
			"Gemm M runs over output pixels (n*ho*wo), gemm N over output channels and gemm K over y*x*c. " +
			"A Tunable must be followed by exactly one Mac or Xdlops line.",
		Segs: []*Seg{
			choiceSeg("Precision",
				"The element type of all three tensors. Accumulation is always 32-bit float.",
				PrecisionStrings,
				func(i int) interface{} { return Precision(i) },
			),
			choiceSeg("Nxe",
				"1 when the filter or its stride, dilation or padding differ from a 1x1 unit convolution. "+
					"0 emits the cheaper channel-only slide and never reads the spatial parameters.",
				nxeStrings,
				func(i int) interface{} { return i },
			),
			pow2Seg("GemmMPerBlock", "128", "Output pixels per workgroup."),
			pow2Seg("GemmNPerBlock", "128", "Output channels per workgroup."),
			pow2Seg("GemmKPerBlock", "16", "Reduction elements per main loop iteration."),
			lengthsSeg("TensorAThread", "1x4x1x1", "Input elements each thread loads, ordered e x c x nb0 x nb1."),
			lengthsSeg("TensorACluster", "1x4x1x64", "Input threads per dimension, ordered e x c x nb0 x nb1."),
			lengthsSeg("TensorBThread", "1x4x1x1", "Weight elements each thread loads, ordered e x c x k0 x k1."),
			lengthsSeg("TensorBCluster", "1x4x1x64", "Weight threads per dimension, ordered e x c x k0 x k1."),
			choiceSeg("LdsBuffers",
				"1 for a single LDS stage protected by barriers, 2 for ping-pong stages.",
				[]string{"1", "2"},
				func(i int) interface{} { return i + 1 },
			),
			pow2Seg("CoalescingGroups", "1", "How many rounds the accumulators are written back in."),
			flagSeg("Interleave", "0", "Interleave the next global loads with the current compute."),
			flagSeg("PrecacheSoffset", "0", "Keep every weight row offset in its own scalar register."),
			flagSeg("MagicDivision", "1", "Replace runtime integer division with host-computed magic numbers."),
			choiceSeg("SourceAccessOrder",
				"0 walks workgroups along gemm N first, 1 along gemm M first.",
				orderStrings,
				func(i int) interface{} { return i },
			),
		},
		Parse: func(l int, a []interface{}) Node {
			return &Tunable{
				LineNum:           l,
				Precision:         a[0].(Precision),
				Nxe:               a[1].(int),
				GemmMPerBlock:     a[2].(int),
				GemmNPerBlock:     a[3].(int),
				GemmKPerBlock:     a[4].(int),
				TensorAThread:     a[5].([4]int),
				TensorACluster:    a[6].([4]int),
				TensorBThread:     a[7].([4]int),
				TensorBCluster:    a[8].([4]int),
				LdsBuffers:        a[9].(int),
				CoalescingGroups:  a[10].(int),
				Interleave:        a[11].(bool),
				PrecacheSoffset:   a[12].(bool),
				MagicDivision:     a[13].(bool),
				SourceAccessOrder: a[14].(int),
			}
		},
	}
}

func initMac() {
	Guide["Mac"] = &Tail{
		Doc: "Compute the preceding Tunable with per-thread vector multiply-accumulate. " +
			"Each thread owns a PerThread square of the tile per repeat; " +
			"Level0 and Level1 arrange the threads.",
		Segs: []*Seg{
			pow2Seg("MPerThread", "4", "Gemm M elements per thread per repeat."),
			pow2Seg("MLevel0", "4", "Threads along gemm M within a cluster."),
			pow2Seg("MLevel1", "2", "Clusters along gemm M."),
			pow2Seg("NPerThread", "4", "Gemm N elements per thread per repeat."),
			pow2Seg("NLevel0", "4", "Threads along gemm N within a cluster."),
			pow2Seg("NLevel1", "2", "Clusters along gemm N."),
		},
		Parse: func(l int, a []interface{}) Node {
			return &Mac{
				LineNum:    l,
				MPerThread: a[0].(int),
				MLevel0:    a[1].(int),
				MLevel1:    a[2].(int),
				NPerThread: a[3].(int),
				NLevel0:    a[4].(int),
				NLevel1:    a[5].(int),
			}
		},
	}
}

func initXdlops() {
	Guide["Xdlops"] = &Tail{
		Doc: "Compute the preceding Tunable with matrix-core instructions. " +
			"TileM x TileN x TileK names one instruction; step and repeat multiply it per wave.",
		Segs: []*Seg{
			pow2Seg("TileM", "32", "Gemm M extent of one instruction."),
			pow2Seg("TileN", "32", "Gemm N extent of one instruction."),
			pow2Seg("TileK", "2", "Gemm K extent of one instruction."),
			pow2Seg("StepM", "1", "Adjacent instruction tiles per wave along gemm M."),
			pow2Seg("StepN", "1", "Adjacent instruction tiles per wave along gemm N."),
			pow2Seg("RepeatM", "2", "Strided repeats of the wave tile along gemm M."),
			pow2Seg("RepeatN", "2", "Strided repeats of the wave tile along gemm N."),
		},
		Parse: func(l int, a []interface{}) Node {
			return &Xdlops{
				LineNum: l,
				TileM:   a[0].(int),
				TileN:   a[1].(int),
				TileK:   a[2].(int),
				StepM:   a[3].(int),
				StepN:   a[4].(int),
				RepeatM: a[5].(int),
				RepeatN: a[6].(int),
			}
		},
	}
}

func init() {
	initConfig()
	initTunable()
	initMac()
	initXdlops()
}
