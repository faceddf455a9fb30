package knowledge

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/model"
)

// RetrieveRequest 检索请求，策略与权重为空时使用知识库配置
type RetrieveRequest struct {
	KBID           string   `json:"kb_id" binding:"required"`
	Query          string   `json:"query" binding:"required,min=1"`
	TopK           int      `json:"top_k" binding:"omitempty,min=1,max=50"`
	Strategy       string   `json:"strategy" binding:"omitempty,oneof=keyword semantic hybrid"`
	KeywordWeight  *float64 `json:"keyword_weight" binding:"omitempty,min=0,max=1"`
	SemanticWeight *float64 `json:"semantic_weight" binding:"omitempty,min=0,max=1"`
	RerankWeight   *float64 `json:"rerank_weight" binding:"omitempty,min=0,max=1"`
}

// Source 检索结果来源
type Source struct {
	MaskedPath string `json:"masked_path"`
}

// Item 检索结果
type Item struct {
	ChunkID    string  `json:"chunk_id"`
	KBID       string  `json:"kb_id"`
	DocumentID string  `json:"document_id"`
	ChunkOrder int     `json:"chunk_order"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Source     Source  `json:"source"`
}

var retrievableStatus = map[string]bool{
	model.KBStatusReady:    true,
	model.KBStatusBuilding: true,
	model.KBStatusFailed:   true,
}

// Retrieve 在单个知识库中检索
func (s *Service) Retrieve(ctx context.Context, userID string, req *RetrieveRequest) ([]*Item, error) {
	kb, err := s.Get(ctx, userID, req.KBID)
	if err != nil {
		return nil, err
	}
	if !retrievableStatus[kb.Status] {
		return nil, apperr.ErrKBNotReady
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, apperr.ErrEmptyQuery
	}

	strategy := kb.RetrievalStrategy
	if req.Strategy != "" {
		strategy = req.Strategy
	}
	wk := floatOr(req.KeywordWeight, kb.KeywordWeight)
	ws := floatOr(req.SemanticWeight, kb.SemanticWeight)
	wr := floatOr(req.RerankWeight, kb.RerankWeight)
	topK := kb.TopK
	if req.TopK > 0 {
		topK = req.TopK
	}

	chunks, err := s.repo.Knowledge.ListChunks(ctx, kb.ID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return []*Item{}, nil
	}

	var queryVec []float64
	if strategy != model.StrategyKeyword {
		if e := s.embedderFor(ctx, kb); e != nil {
			vecs, err := e.EmbedStrings(ctx, []string{query})
			if err != nil || len(vecs) == 0 {
				s.log.Warn("query embedding failed, semantic leg falls back to keyword",
					zap.String("kb_id", kb.ID), zap.Error(err))
			} else {
				queryVec = vecs[0]
			}
		}
	}

	terms := queryTerms(query)
	type scored struct {
		chunk *model.KBChunk
		score float64
	}
	var candidates []scored
	for _, c := range chunks {
		kw := keywordScore(terms, c.ChunkText)
		sem := kw
		if queryVec != nil && len(c.Embedding) > 0 {
			sem = cosine(queryVec, c.Embedding)
		}
		var score float64
		switch strategy {
		case model.StrategyKeyword:
			score = kw
		case model.StrategySemantic:
			score = sem
		default:
			total := wk + ws
			if total <= 0 {
				score = (kw + sem) / 2
			} else {
				score = (kw*wk + sem*ws) / total
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{c, score})
		}
	}

	order := func() {
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].score != candidates[j].score {
				return candidates[i].score > candidates[j].score
			}
			return candidates[i].chunk.ChunkOrder < candidates[j].chunk.ChunkOrder
		})
	}
	order()
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	if wr > 0 {
		phrase := strings.ToLower(query)
		for i := range candidates {
			if strings.Contains(strings.ToLower(candidates[i].chunk.ChunkText), phrase) {
				candidates[i].score += wr
			}
		}
		order()
		if kb.RerankTopN > 0 && len(candidates) > kb.RerankTopN {
			candidates = candidates[:kb.RerankTopN]
		}
	}

	docs, err := s.repo.Knowledge.ListDocuments(ctx, kb.ID)
	if err != nil {
		return nil, err
	}
	maskedPaths := make(map[string]string, len(docs))
	for _, d := range docs {
		maskedPaths[d.ID] = d.MaskedPath
	}

	items := make([]*Item, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, &Item{
			ChunkID:    c.chunk.ID,
			KBID:       kb.ID,
			DocumentID: c.chunk.DocumentID,
			ChunkOrder: c.chunk.ChunkOrder,
			Text:       c.chunk.ChunkText,
			Score:      math.Round(c.score*1e6) / 1e6,
			Source:     Source{MaskedPath: maskedPaths[c.chunk.DocumentID]},
		})
	}
	return items, nil
}

// RetrieveMany 在多个知识库中检索并按分数合并，单个知识库失败只记录警告
func (s *Service) RetrieveMany(ctx context.Context, userID string, kbIDs []string, query string, topK int) ([]*Item, []string) {
	var (
		all      []*Item
		warnings []string
		seen     = make(map[string]bool)
	)
	for _, id := range kbIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		items, err := s.Retrieve(ctx, userID, &RetrieveRequest{KBID: id, Query: query, TopK: topK})
		if err != nil {
			s.log.Warn("kb retrieval skipped", zap.String("kb_id", id), zap.Error(err))
			warnings = append(warnings, "kb "+id+": "+errorMessage(err))
			continue
		}
		all = append(all, items...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if topK > 0 && len(all) > topK {
		all = all[:topK]
	}
	return all, warnings
}

// queryTerms 小写去重后的查询词
func queryTerms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

// keywordScore 命中的查询词占比
func keywordScore(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hit := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

func cosine(a []float64, b model.Vector) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := a[i], float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
