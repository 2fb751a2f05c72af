package services

import (
	"context"
	"strings"

	"github.com/jwebster45206/alignment-engine/pkg/chat"
)

// demoTurns is a short canned playthrough: one free action, one roll, then
// the ending. It exists so the API and console can be exercised offline.
var demoTurns = []string{
	`{"story": "구슬을 손에 쥐자 기이할 정도로 따스한 온기가 전해집니다. 그때, 쿵! 발코니에서 소리가 납니다. 창문 너머로 붉은 옷의 청년이 보입니다. **어떻게 하시겠습니까?**",
	  "alignmentScores": {"lawful": 1, "chaotic": 0, "good": 0, "evil": 0},
	  "diceRequest": null, "gameEnded": false}`,
	`{"story": "청년이 창문을 두드리다 발을 헛디딥니다. 붙잡으려면 재빨리 움직여야 합니다.",
	  "alignmentScores": {"lawful": 0, "chaotic": 0, "good": 1, "evil": 0},
	  "diceRequest": {"type": "D20", "description": "청년의 손목 붙잡기"}, "gameEnded": false}`,
	`{"story": "당신은 청년의 손목을 붙잡아 끌어올립니다. 그는 구겨진 치킨 쿠폰을 내밀며 고개를 숙입니다. 창밖으로 첫눈이 내리기 시작합니다.",
	  "alignmentScores": {"lawful": 0, "chaotic": 0, "good": 2, "evil": 0},
	  "diceRequest": null, "gameEnded": true}`,
}

const demoEpilogue = `{"title": "Neutral\nGood", "description": "다음날 아침, 102동 현관 앞에는 작은 상자가 놓여 있었습니다. 서연이는 부모님과 함께 구슬 위에 손을 얹었고, 방 안이 부드러운 빛으로 가득 찼습니다."}`

// DemoLLM replays demoTurns by position in the conversation and answers
// epilogue requests with a fixed epilogue. Past the end of the script it
// keeps returning the final turn. It holds no state, so concurrent sessions
// each see their own script.
type DemoLLM struct{}

func NewDemoLLM() *DemoLLM {
	return &DemoLLM{}
}

func (d *DemoLLM) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(messages) > 0 && strings.Contains(messages[len(messages)-1].Content, `"title"`) {
		return &chat.ChatResponse{Message: demoEpilogue}, nil
	}
	step := countRole(messages, chat.ChatRoleAgent)
	return &chat.ChatResponse{Message: demoTurns[min(step, len(demoTurns)-1)]}, nil
}

func countRole(messages []chat.ChatMessage, role string) int {
	n := 0
	for _, m := range messages {
		if m.Role == role {
			n++
		}
	}
	return n
}
