package risk

// SafetyResponse is the fixed user-facing block for elevated risk. This
// is the only place where a detected risk may alter the visible
// conversation flow.
type SafetyResponse struct {
	Message           string
	Resources         []string
	BlocksInteraction bool
}

const emergencyMessage = "Sentimos muito que você esteja passando por isso. " +
	"Você não está sozinha e existe ajuda disponível agora mesmo. " +
	"Por favor, entre em contato com um destes canais — eles atendem 24 horas:"

const elevatedMessage = "Percebemos que você pode estar passando por um momento difícil. " +
	"Se precisar conversar com alguém agora, estes canais estão disponíveis:"

var crisisResources = []string{
	"CVV — Centro de Valorização da Vida: ligue 188 (24h, gratuito) ou acesse cvv.org.br",
	"SAMU — emergências médicas: ligue 192",
	"Central de Atendimento à Mulher: ligue 180",
	"Em perigo imediato, ligue 190 (Polícia Militar)",
}

// ComposeSafetyResponse returns the emergency-resource block for an
// analysis. BlocksInteraction is true only for Emergency urgency.
func ComposeSafetyResponse(a Analysis) SafetyResponse {
	if a.Urgency == UrgencyEmergency {
		return SafetyResponse{
			Message:           emergencyMessage,
			Resources:         crisisResources,
			BlocksInteraction: true,
		}
	}
	if a.Urgency >= UrgencyUrgent || a.Level >= LevelHigh {
		return SafetyResponse{
			Message:   elevatedMessage,
			Resources: crisisResources,
		}
	}
	return SafetyResponse{}
}
