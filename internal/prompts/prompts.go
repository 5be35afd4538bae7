package prompts

import (
	"fmt"
	"os"
	"strings"
)

const defaultTemplate = "Берилген тексттин негизинде кыргыз элинин тарыхына, тилине, географиясына, экономикасына, маданиятына, салт-санаасына, дүйнө таанымына жана башка ушул сыяктуу аспектилерине байланыштуу терең, маалыматтуу жана сапаттуу датасетти түз, ал 7 жуп «суроо-жооптон» турсун.\n\n" +
	"Тили:\n" +
	"- Бардык суроолор жана жооптор кыргыз тилинде гана жазылышы керек.\n\n" +
	"Суроолорго коюлган талаптар:\n" +
	"- Ар бир суроо кеминде 1000 символдон турушу керек.\n" +
	"- Суроо логикалык жактан толук, кеңири жайылган, теманын 1-2 гана өз ара байланышкан аспектисин камтышы керек.\n" +
	"- Суроолор так, тематикалык жактан фокусталган, ар кандай темалар менен ашыкча жүктөлбөгөн болушу керек.\n" +
	"- Керек болсо, тактоочу деталдарды же байланышкан пункттарды кошууга болот, бирок алардын бардыгы бир негизги суроого тиешелүү болушу керек.\n" +
	"- «Текстке ылайык», «текстте берилгендей», «текстте», «тексттеги», «текстте айтылгандай», «жогорудагы маалыматтарга таянып» сыяктуу сөз айкаштарын жана ушуга окшош шилтемелерди колдонбо.\n\n" +
	"Жоопторго коюлган талаптар:\n" +
	"- Ар бир жооп кеминде 1000 символдон турушу керек.\n" +
	"- Жооптор логикалык, фактыларга негизделген, мисалдар, тарыхый жана этнографиялык деталдар менен берилиши керек.\n" +
	"- Жооп берилген суроону толук жана терең ачып бериши керек.\n\n" +
	"Формат: Эч кандай кошумча түшүндүрмөсү жок JSON-массивди гана кайтар. Мисалы:\n" +
	"[\n  {\"question\": \"...\", \"answer\": \"...\"},\n  ...\n]"

// DefaultSeparator sits between the instruction and the chunk text.
const DefaultSeparator = "\n\nТекст:\n"

// Builder concatenates a fixed instruction with chunk text. The template is not validated.
type Builder struct {
	Template  string
	Separator string
}

// NewBuilder returns a builder for template, falling back to the default instruction when it is blank.
func NewBuilder(template string) Builder {
	if strings.TrimSpace(template) == "" {
		template = defaultTemplate
	}
	return Builder{Template: template, Separator: DefaultSeparator}
}

// Build composes the single request string for one chunk.
func (b Builder) Build(chunkText string) string {
	return b.Template + b.Separator + chunkText
}

// DefaultTemplate returns the canonical dataset instruction.
func DefaultTemplate() string {
	return defaultTemplate
}

// LoadTemplate reads an instruction template from a file. An empty path yields the default.
func LoadTemplate(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return defaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template: %w", err)
	}
	template := strings.TrimRight(string(data), "\n")
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("prompt template %s is empty", path)
	}
	return template, nil
}
