package providers

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"deviceID" yaml:"deviceID"`
	// Whether to do copies in the default stream or use separate streams. The recommended setting is
	// true. If false, there are race conditions and possibly better performance.
	DoCopyInDefaultStream bool `json:"doCopyInDefaultStream" yaml:"doCopyInDefaultStream"`
	// The size limit of the device memory arena in bytes. 0 leaves the runtime default.
	GPUMemLimit int64 `json:"gpuMemLimit" yaml:"gpuMemLimit"`
	// The strategy for extending the device memory arena.
	// 0: kNextPowerOfTwo - subsequent extensions extend by larger amounts (multiplied by powers of
	// two)
	// 1: kSameAsRequested - extend by the requested amount
	ArenaExtendStrategy int `json:"arenaExtendStrategy" yaml:"arenaExtendStrategy"`
	// The type of search done for cuDNN convolution algorithms.
	// 0: EXHAUSTIVE, 1: HEURISTIC, 2: DEFAULT
	CudnnConvAlgoSearch int `json:"cudnnConvAlgoSearch" yaml:"cudnnConvAlgoSearch"`
	// Check using CUDA Graphs in the CUDA EP for details on what this flag does.
	EnableCudaGraph bool `json:"enableCudaGraph" yaml:"enableCudaGraph"`
	// TF32 is a math mode available on NVIDIA GPUs since Ampere.
	UseTF32 bool `json:"useTF32" yaml:"useTF32"`
	// If this option is enabled, the execution provider prefers NHWC operators over NCHW.
	PreferNHWC bool `json:"preferNHWC" yaml:"preferNHWC"`
}

var cudnnConvAlgoSearch = map[int]string{0: "EXHAUSTIVE", 1: "HEURISTIC", 2: "DEFAULT"}

var arenaExtendStrategy = map[int]string{0: "kNextPowerOfTwo", 1: "kSameAsRequested"}

// ProviderOptions renders the options as the key/value pairs onnxruntime expects.
func (o CUDAOptions) ProviderOptions() (map[string]string, error) {
	search, ok := cudnnConvAlgoSearch[o.CudnnConvAlgoSearch]
	if !ok {
		return nil, errors.Errorf("invalid cudnnConvAlgoSearch %d", o.CudnnConvAlgoSearch)
	}
	strategy, ok := arenaExtendStrategy[o.ArenaExtendStrategy]
	if !ok {
		return nil, errors.Errorf("invalid arenaExtendStrategy %d", o.ArenaExtendStrategy)
	}

	opts := map[string]string{
		"device_id":                 strconv.Itoa(o.DeviceID),
		"do_copy_in_default_stream": boolFlag(o.DoCopyInDefaultStream),
		"arena_extend_strategy":     strategy,
		"cudnn_conv_algo_search":    search,
		"enable_cuda_graph":         boolFlag(o.EnableCudaGraph),
		"use_tf32":                  boolFlag(o.UseTF32),
		"prefer_nhwc":               boolFlag(o.PreferNHWC),
	}
	if o.GPUMemLimit > 0 {
		opts["gpu_mem_limit"] = strconv.FormatInt(o.GPUMemLimit, 10)
	}
	return opts, nil
}

// ToNativeProviderOptions converts the CUDA options to native provider options. The caller
// must Destroy the result.
func (o CUDAOptions) ToNativeProviderOptions() (*ort.CUDAProviderOptions, error) {
	kv, err := o.ProviderOptions()
	if err != nil {
		return nil, err
	}

	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating CUDA provider options")
	}
	if err := opts.Update(kv); err != nil {
		opts.Destroy()
		return nil, errors.Wrap(err, "error updating CUDA provider options")
	}
	return opts, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
