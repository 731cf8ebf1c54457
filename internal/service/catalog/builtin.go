package catalog

import "github.com/lmplayground/model-store/internal/domain"

const hfBase = "https://huggingface.co/"

func hf(repo, filename string) string {
	return hfBase + repo + "/resolve/main/" + filename
}

// Builtin returns the catalog shipped with the binary. Entries that carry
// prompt templates belong to the previous model generation and are obsolete.
func Builtin() []domain.AssetDescriptor {
	return []domain.AssetDescriptor{
		{
			ID:            "qwen3-0.6b",
			Name:          "Qwen 3 0.6B",
			Filename:      "Qwen3-0.6B-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/Qwen3-0.6B-GGUF", "Qwen3-0.6B-Q4_K_M.gguf"),
			Description:   "484Mb language model with 0.6 billion parameters",
		},
		{
			ID:            "qwen3-1.7b",
			Name:          "Qwen 3 1.7B",
			Filename:      "Qwen3-1.7B-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/Qwen3-1.7B-GGUF", "Qwen3-1.7B-Q4_K_M.gguf"),
			Description:   "1.28Gb language model with 1.7 billion parameters",
		},
		{
			ID:            "qwen3-4b",
			Name:          "Qwen 3 4B",
			Filename:      "Qwen3-4B-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/Qwen3-4B-GGUF", "Qwen3-4B-Q4_K_M.gguf"),
			Description:   "2.5Gb language model with 4 billion parameters",
		},
		{
			ID:            "gemma3-1b",
			Name:          "Gemma 3 1B",
			Filename:      "gemma-3-1b-it-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/gemma-3-1b-it-GGUF", "gemma-3-1b-it-Q4_K_M.gguf"),
			Description:   "806Mb language model with 1 billion parameters",
		},
		{
			ID:            "gemma3-4b",
			Name:          "Gemma 3 4B",
			Filename:      "gemma-3-4b-it-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/gemma-3-4b-it-GGUF", "gemma-3-4b-it-Q4_K_M.gguf"),
			Description:   "2.49Gb language model with 4 billion parameters",
		},
		{
			ID:            "llama3.2-1b",
			Name:          "Llama 3.2 1B",
			Filename:      "Llama-3.2-1B-Instruct-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/Llama-3.2-1B-Instruct-GGUF", "Llama-3.2-1B-Instruct-Q4_K_M.gguf"),
			Description:   "808Mb language model with 1 billion parameters",
		},
		{
			ID:            "llama3.2-3b",
			Name:          "Llama 3.2 3B",
			Filename:      "Llama-3.2-3B-Instruct-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/Llama-3.2-3B-Instruct-GGUF", "Llama-3.2-3B-Instruct-Q4_K_M.gguf"),
			Description:   "2.02Gb language model with 3 billion parameters",
		},
		{
			ID:            "phi4-mini",
			Name:          "Phi-4 mini",
			Filename:      "Phi-4-mini-instruct-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/Phi-4-mini-instruct-GGUF", "Phi-4-mini-instruct-Q4_K_M.gguf"),
			Description:   "2.49Gb language model with 3.8 billion parameters",
		},
		{
			ID:            "deepseek-r1-1.5b",
			Name:          "DeepSeek R1 Distill 1.5B",
			Filename:      "DeepSeek-R1-Distill-Qwen-1.5B-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/DeepSeek-R1-Distill-Qwen-1.5B-GGUF", "DeepSeek-R1-Distill-Qwen-1.5B-Q4_K_M.gguf"),
			Description:   "1.12Gb language model distilled from Qwen 1.5B",
		},
		{
			ID:            "deepseek-r1-7b",
			Name:          "DeepSeek R1 Distill 7B",
			Filename:      "DeepSeek-R1-Distill-Qwen-7B-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/DeepSeek-R1-Distill-Qwen-7B-GGUF", "DeepSeek-R1-Distill-Qwen-7B-Q4_K_M.gguf"),
			Description:   "4.68Gb language model distilled from Qwen 7B",
		},
		{
			ID:            "qwen2.5-0.5b",
			Name:          "Qwen2.5 0.5B",
			Filename:      "Qwen2.5-0.5B-Instruct-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/Qwen2.5-0.5B-Instruct-GGUF", "Qwen2.5-0.5B-Instruct-Q4_K_M.gguf"),
			Description:   "398Mb language model with 0.5 billion parameters",
			InputPrefix:   "<|im_start|>user\n",
			InputSuffix:   "<|im_end|>\n<|im_start|>assistant\n",
			AntiPrompt:    []string{"<|im_end|>"},
			Obsolete:      true,
		},
		{
			ID:            "qwen2.5-1.5b",
			Name:          "Qwen2.5 1.5B",
			Filename:      "Qwen2.5-1.5B-Instruct-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/Qwen2.5-1.5B-Instruct-GGUF", "Qwen2.5-1.5B-Instruct-Q4_K_M.gguf"),
			Description:   "986Mb language model with 1.5 billion parameters",
			InputPrefix:   "<|im_start|>user\n",
			InputSuffix:   "<|im_end|>\n<|im_start|>assistant\n",
			AntiPrompt:    []string{"<|im_end|>"},
			Obsolete:      true,
		},
		{
			ID:            "phi3.5-mini",
			Name:          "Phi3.5 mini",
			Filename:      "Phi-3.5-mini-instruct-Q4_K_M.gguf",
			RemoteLocator: hf("bartowski/Phi-3.5-mini-instruct-GGUF", "Phi-3.5-mini-instruct-Q4_K_M.gguf"),
			Description:   "2.2Gb language model with 3.8 billion parameters",
			InputPrefix:   "<|user|>\n",
			InputSuffix:   "<|end|>\n<|assistant|>\n",
			AntiPrompt:    []string{"<|end|>", "<|assistant|>"},
			Obsolete:      true,
		},
		{
			ID:            "mistral-7b",
			Name:          "Mistral 7B",
			Filename:      "Mistral-7B-Instruct-v0.3-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/Mistral-7B-Instruct-v0.3-GGUF", "Mistral-7B-Instruct-v0.3-Q4_K_M.gguf"),
			Description:   "4.37Gb language model with 7.3 billion parameters",
			InputPrefix:   "[INST]",
			InputSuffix:   "[/INST]",
			Obsolete:      true,
		},
		{
			ID:            "llama3.1-8b",
			Name:          "Llama 3.1 8B",
			Filename:      "Meta-Llama-3.1-8B-Instruct-Q4_K_M.gguf",
			RemoteLocator: hf("lmstudio-community/Meta-Llama-3.1-8B-Instruct-GGUF", "Meta-Llama-3.1-8B-Instruct-Q4_K_M.gguf"),
			Description:   "4.92Gb language model with 8 billion parameters",
			InputPrefix:   "<|start_header_id|>user<|end_header_id|>\n\n",
			InputSuffix:   "<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n",
			AntiPrompt:    []string{"<|eot_id|>"},
			Obsolete:      true,
		},
		{
			ID:            "gemma2-9b",
			Name:          "Gemma2 9B",
			Filename:      "gemma-2-9b-it-Q4_K_M.gguf",
			RemoteLocator: hf("bartowski/gemma-2-9b-it-GGUF", "gemma-2-9b-it-Q4_K_M.gguf"),
			Description:   "5.44Gb language model with 9 billion parameters",
			InputPrefix:   "<start_of_turn>user\n",
			InputSuffix:   "<end_of_turn>\n<start_of_turn>model\n",
			AntiPrompt:    []string{"<start_of_turn>user", "<start_of_turn>model", "<end_of_turn>"},
			Obsolete:      true,
		},
	}
}
