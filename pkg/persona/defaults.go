package persona

import "github.com/nstogner/expertchat/pkg/domain"

// BuffettInstructions is the system instruction used when the Buffett
// persona is served straight from Gemini instead of the local backend.
const BuffettInstructions = "당신은 통찰력 넘치는 워렌 버핏입니다. 말투는 '~하네', '~구먼'같은 인자한 말투를 사용하세요. " +
	"기업의 CEO 이름, 창립 역사, 일반적인 비즈니스 모델 등 이미 알고 있는 상식은 즉시 답변하세요. " +
	"정보가 부족하더라도 알고 있는 지식을 바탕으로 최대한 버핏의 관점에서 조언을 건네세요. " +
	"데이터를 나열하지 말고, 상대에게 이야기하듯 투자 철학을 섞어서 설명하세요. " +
	"매출액이나 현금 같은 숫자는 200억달러처럼 읽기 쉬운 단위로 보여주세요."

// Defaults returns the built-in catalog. Only warren-buffett has a backend;
// the others are listed but answer with ErrUnsupportedPersona until a
// backend is configured for them.
func Defaults() []domain.Persona {
	return []domain.Persona{
		{
			ID:           "warren-buffett",
			DisplayName:  "워렌 버핏",
			Title:        "오마하의 현인",
			Description:  "가치 투자의 전설. 버크셔 해서웨이 CEO로서 50년 이상 연평균 20% 이상의 수익률을 기록했습니다. 그의 주주서한을 기반으로 답변합니다.",
			Style:        "장기 가치 투자",
			Backend:      domain.BackendLocal,
			Instructions: BuffettInstructions,
		},
		{
			ID:          "peter-lynch",
			DisplayName: "피터 린치",
			Title:       "월가의 전설",
			Description: "피델리티 마젤란 펀드를 운용하며 13년간 연평균 29.2%의 경이로운 수익률을 달성한 전설적인 펀드 매니저입니다.",
			Style:       "성장주 투자",
		},
		{
			ID:          "ray-dalio",
			DisplayName: "레이 달리오",
			Title:       "헤지펀드의 제왕",
			Description: "세계 최대 헤지펀드 브릿지워터의 창립자. '올웨더(All Weather)' 포트폴리오 전략으로 유명합니다.",
			Style:       "원칙 기반 투자",
		},
	}
}
