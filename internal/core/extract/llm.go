package extract

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

// systemPrompt 文字擷取的系統提示詞：嚴格 JSON 契約，每項食材必附證據片語
const systemPrompt = `You extract recipe data from social media text. Respond with compact JSON only, no commentary.
Schema: {"ingredients":[{"name":string,"amount":string,"unit":string,"evidence_phrase":string,"group":string,"optional":bool}],"instructions":[{"step_number":int,"text":string}]}
Rules:
1. Only extract ingredients literally present in the provided text.
2. evidence_phrase MUST be copied verbatim from the text for every ingredient. An ingredient without an evidence_phrase will be discarded.
3. Never invent amounts or ingredients. Omit fields you cannot find.
4. instructions must be ordered steps with step_number starting at 1.
5. If the text contains no recipe, return {"ingredients":[],"instructions":[]}.`

// LLMTier 文字模型擷取層
type LLMTier struct {
	client *ModelClient
	cfg    *config.ModelConfig
}

// NewLLMTier 創建文字模型層
func NewLLMTier(client *ModelClient, cfg *config.ModelConfig) *LLMTier {
	return &LLMTier{client: client, cfg: cfg}
}

// Name 層名稱
func (t *LLMTier) Name() string {
	return string(common.SourceLLMText)
}

// Extract 以受約束的提示詞呼叫文字補全服務
func (t *LLMTier) Extract(ctx context.Context, bundle *common.SourceBundle) (*Output, error) {
	text := bundle.PrimaryText()
	if strings.TrimSpace(text) == "" {
		return &Output{}, nil
	}

	result, err := t.client.Complete(ctx, systemPrompt, t.buildUserPrompt(bundle, text))
	if err != nil {
		return nil, err
	}

	out := parseModelPayload(result.Text, common.SourceLLMText)
	out.CostCents = t.client.CostCents(result.PromptTokens, result.CompletionTokens)
	out.EvidenceCorpus = bundle.PrimaryText()

	common.LogInfo("文字模型擷取完成",
		zap.Int("食材數", len(out.Ingredients)),
		zap.Int("步驟數", len(out.Instructions)),
		zap.Int("成本美分", out.CostCents),
	)
	return out, nil
}

// buildUserPrompt 組合標題、平台與截斷後的描述
func (t *LLMTier) buildUserPrompt(bundle *common.SourceBundle, text string) string {
	maxChars := t.cfg.MaxInputChars
	if maxChars <= 0 {
		maxChars = 16000
	}
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return fmt.Sprintf("Platform: %s\nTitle: %s\n\nText:\n%s", bundle.Platform, bundle.Title, text)
}

// llmIngredient 模型輸出的食材，amount 容忍數值或字串兩種寫法
type llmIngredient struct {
	Name           string      `json:"name"`
	Amount         interface{} `json:"amount"`
	Unit           string      `json:"unit"`
	EvidencePhrase string      `json:"evidence_phrase"`
	Group          string      `json:"group"`
	Optional       bool        `json:"optional"`
}

// llmStep 模型輸出的步驟，text/description 兩欄位名都接受
type llmStep struct {
	StepNumber  int    `json:"step_number"`
	Text        string `json:"text"`
	Description string `json:"description"`
}

// llmPayload 物件格式的模型輸出
type llmPayload struct {
	Ingredients  []llmIngredient `json:"ingredients"`
	Instructions []llmStep       `json:"instructions"`
}

// parseModelPayload 解析模型輸出
// 容忍程式碼圍欄，接受物件或裸陣列（舊版格式）；其餘一律回傳空結果而非報錯
func parseModelPayload(raw string, source common.SourceTag) *Output {
	payload := common.ExtractJSONPayload(raw)
	out := &Output{}

	var obj llmPayload
	err := common.ParseJSON(payload, &obj)
	if err != nil {
		// 模型偶爾輸出未加引號的鍵，補上引號再試一次
		err = common.ParseJSON(common.QuoteJSONKeys(payload), &obj)
	}
	if err == nil && (len(obj.Ingredients) > 0 || len(obj.Instructions) > 0) {
		out.Ingredients = convertLLMIngredients(obj.Ingredients, source)
		out.Instructions = convertLLMSteps(obj.Instructions)
	} else {
		// 舊版格式：裸食材陣列
		var arr []llmIngredient
		if err := common.ParseJSON(payload, &arr); err == nil {
			out.Ingredients = convertLLMIngredients(arr, source)
		}
	}

	conf := ingredientCountConfidence(len(out.Ingredients))
	for i := range out.Ingredients {
		out.Ingredients[i].Confidence = conf
	}
	return out
}

func convertLLMIngredients(items []llmIngredient, source common.SourceTag) []common.RawIngredient {
	out := make([]common.RawIngredient, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		out = append(out, common.RawIngredient{
			Name:           name,
			Amount:         amountToString(item.Amount),
			Unit:           strings.TrimSpace(item.Unit),
			EvidencePhrase: strings.TrimSpace(item.EvidencePhrase),
			Group:          strings.TrimSpace(item.Group),
			Optional:       item.Optional,
			Source:         source,
		})
	}
	return out
}

func convertLLMSteps(items []llmStep) []common.Step {
	out := make([]common.Step, 0, len(items))
	for _, item := range items {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			text = strings.TrimSpace(item.Description)
		}
		if text == "" {
			continue
		}
		num := item.StepNumber
		if num <= 0 {
			num = len(out) + 1
		}
		out = append(out, common.Step{StepNumber: num, Description: text})
	}
	return out
}

// amountToString 將數值或字串份量統一為字串
func amountToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return val.String()
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", val), "0"), ".")
	case int:
		return fmt.Sprintf("%d", val)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}
