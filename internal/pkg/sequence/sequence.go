package sequence

import (
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/classify"
)

// MessageType identifies which outreach campaign a case runs.
type MessageType string

const (
	TypeExpiredCard       MessageType = "expired_card"
	TypeInsufficientFunds MessageType = "insufficient_funds"
	TypeDoNotHonor        MessageType = "do_not_honor"
	TypeAuthRequired      MessageType = "authentication_required"
	TypeIncorrectData     MessageType = "incorrect_data"
	TypeGeneric           MessageType = "generic"
)

// Step is one scheduled outreach message. Day is the minimum number of
// days since case creation before the step may be dispatched.
type Step struct {
	Day          int
	Step         int
	Subject      string
	Preheader    string
	FinalWarning bool
}

// ForFailure maps a failure kind to its campaign. Hard declines have no
// campaign and return false.
func ForFailure(kind classify.FailureKind) (MessageType, bool) {
	switch kind {
	case classify.ExpiredCard:
		return TypeExpiredCard, true
	case classify.InsufficientFunds:
		return TypeInsufficientFunds, true
	case classify.DoNotHonor:
		return TypeDoNotHonor, true
	case classify.AuthRequired:
		return TypeAuthRequired, true
	case classify.IncorrectData:
		return TypeIncorrectData, true
	case classify.Generic:
		return TypeGeneric, true
	default:
		return "", false
	}
}

// Steps returns the ordered campaign for a message type.
func Steps(t MessageType) []Step {
	return campaigns[t]
}

// StepConfig returns the configuration for one step index.
func StepConfig(t MessageType, step int) (Step, bool) {
	for _, s := range campaigns[t] {
		if s.Step == step {
			return s, true
		}
	}
	return Step{}, false
}

var campaigns = map[MessageType][]Step{
	TypeExpiredCard: {
		{Day: 0, Step: 0, Subject: "Tu suscripción sigue activa, pero la tarjeta expiró", Preheader: "Actualizala en 1 minuto. No cambia tu plan ni tus datos."},
		{Day: 1, Step: 1, Subject: "Un minuto y queda resuelto — tarjeta expirada", Preheader: "Seguimos viendo la tarjeta expirada. Un paso y queda."},
		{Day: 3, Step: 2, Subject: "Ya pasaron 3 días — ¿actualizamos tu tarjeta?", Preheader: "Tu suscripción sigue activa pero el cobro está pendiente."},
		{Day: 5, Step: 3, Subject: "Tu acceso se pausa pronto si no actualizás", Preheader: "Todavía estás a tiempo. Un click y sigue todo igual."},
		{Day: 7, Step: 4, Subject: "Último aviso antes de pausar tu suscripción", Preheader: "Mañana pausamos el servicio. Actualizá ahora para evitarlo.", FinalWarning: true},
	},
	TypeInsufficientFunds: {
		{Day: 0, Step: 0, Subject: "Pago pendiente — podés resolverlo ahora o esperar el reintento", Preheader: "Vamos a reintentar, pero podés acelerarlo con un click."},
		{Day: 1, Step: 1, Subject: "¿Actualizaste el método de pago? Solo toma 1 minuto", Preheader: "Si tu saldo ya está ok, actualizá y se procesa al instante."},
		{Day: 3, Step: 2, Subject: "Seguimos intentando cobrar. Tenés una opción más rápida", Preheader: "Cambiá de tarjeta o esperá el próximo intento automático."},
		{Day: 5, Step: 3, Subject: "Tu suscripción está en riesgo — resolvelo hoy", Preheader: "El cobro sigue fallando. Actualizá para evitar la pausa."},
		{Day: 7, Step: 4, Subject: "Mañana pausamos el servicio si no se completa el pago", Preheader: "Último aviso. Actualizá tu método de pago para continuar.", FinalWarning: true},
	},
	TypeDoNotHonor: {
		{Day: 0, Step: 0, Subject: "Tu banco rechazó el pago — probá con otra tarjeta", Preheader: "El banco no autorizó el cobro. Usar otra tarjeta lo resuelve."},
		{Day: 1, Step: 1, Subject: "¿Pudiste resolver el rechazo del banco?", Preheader: "A veces alcanza con llamar al banco o usar otra tarjeta."},
		{Day: 3, Step: 2, Subject: "Tu pago sigue rechazado por el banco — opciones rápidas", Preheader: "Probá con otra tarjeta o contactá a tu banco para desbloquearlo."},
		{Day: 5, Step: 3, Subject: "Tu acceso puede pausarse — el banco sigue rechazando", Preheader: "Usar otra tarjeta es la forma más rápida de resolverlo."},
		{Day: 7, Step: 4, Subject: "Último aviso: actualizá tu tarjeta para mantener el servicio", Preheader: "Mañana pausamos el acceso. Actualizá ahora.", FinalWarning: true},
	},
	TypeAuthRequired: {
		{Day: 0, Step: 0, Subject: "Tu banco necesita una confirmación rápida (3D Secure)", Preheader: "El cobro requiere autenticación. Confirmalo en 1 minuto."},
		{Day: 1, Step: 1, Subject: "Falta confirmar tu pago — tu banco requiere verificación", Preheader: "Solo necesitás autorizar el cobro desde tu banco o app."},
		{Day: 3, Step: 2, Subject: "3 días esperando tu confirmación de pago", Preheader: "Autorizá el cobro o usá otra tarjeta sin 3D Secure."},
		{Day: 5, Step: 3, Subject: "Tu suscripción se pausa si no confirmás el pago", Preheader: "Confirmá la autenticación o cambiá de tarjeta."},
		{Day: 7, Step: 4, Subject: "Último aviso: completá la verificación o actualizá tu tarjeta", Preheader: "Mañana pausamos el servicio. Resolvelo ahora.", FinalWarning: true},
	},
	TypeIncorrectData: {
		{Day: 0, Step: 0, Subject: "Los datos de tu tarjeta tienen un error — actualizalos", Preheader: "Número, CVC o vencimiento incorrectos. Corregilo en 1 minuto."},
		{Day: 1, Step: 1, Subject: "Seguimos viendo datos incorrectos en tu tarjeta", Preheader: "Verificá el número, CVC y fecha de vencimiento."},
		{Day: 3, Step: 2, Subject: "Tu pago sigue fallando por datos de tarjeta incorrectos", Preheader: "Actualizá los datos o probá con otra tarjeta."},
		{Day: 5, Step: 3, Subject: "Tu suscripción se pausa pronto — corregí los datos", Preheader: "Actualizá tu tarjeta para que podamos cobrar."},
		{Day: 7, Step: 4, Subject: "Último aviso: corregí tu tarjeta para mantener el servicio", Preheader: "Mañana pausamos el acceso. Actualizá ahora.", FinalWarning: true},
	},
	TypeGeneric: {
		{Day: 0, Step: 0, Subject: "Tu suscripción sigue activa — resolvé el pago en 1 minuto", Preheader: "Hubo un problema con el cobro. Actualizá tu método de pago."},
		{Day: 1, Step: 1, Subject: "Pago pendiente — todavía podés resolverlo fácil", Preheader: "Un click y queda. No cambia tu plan."},
		{Day: 3, Step: 2, Subject: "3 días sin poder cobrar — ¿todo bien?", Preheader: "Actualizá tu método de pago para evitar interrupciones."},
		{Day: 5, Step: 3, Subject: "Tu acceso puede pausarse pronto", Preheader: "Todavía estás a tiempo de resolver el pago."},
		{Day: 7, Step: 4, Subject: "Último aviso: completá el pago o pausamos el servicio", Preheader: "Mañana se pausa tu suscripción. Actualizá ahora.", FinalWarning: true},
	},
}
