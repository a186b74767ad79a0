package sequence

import (
	"fmt"
	"html"
	"strings"
)

// RenderParams carries everything the render function needs. Rendering is
// pure: no I/O, no clock, no globals.
type RenderParams struct {
	CompanyName   string
	SenderName    string
	PortalURL     string
	OpenPixelURL  string
	AmountCents   int64
	Currency      string
	Preheader     string
	BrandColor    string
	ButtonColor   string
	ButtonText    string
	ShowIncentive bool
	IncentiveText string
}

// FormatAmount renders a minor-unit amount as "$49.00 USD".
func FormatAmount(cents int64, currency string) string {
	return fmt.Sprintf("$%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}

var ctaByStep = map[int]string{
	0: "Resolver ahora",
	1: "Confirmar método de pago",
	2: "Mantener mi suscripción activa",
	3: "Mantener mi suscripción activa",
	4: "Completar pago antes de la pausa",
}

var bodyCopy = map[MessageType][5]string{
	TypeExpiredCard: {
		"No pudimos procesar tu pago de <strong>%s</strong> porque tu tarjeta <strong>expiró</strong>. Tu suscripción sigue activa: solo necesitás actualizar tu método de pago.",
		"Recordatorio rápido: seguimos sin poder cobrar <strong>%s</strong> porque tu tarjeta está expirada. Un solo paso y queda resuelto.",
		"Ya pasaron 3 días y todavía no pudimos cobrar <strong>%s</strong>. Tu tarjeta sigue figurando como expirada.",
		"Tu pago de <strong>%s</strong> sigue pendiente por tarjeta expirada. <strong>Tu acceso se puede pausar pronto</strong> si no se resuelve.",
		"<strong>Último aviso:</strong> mañana pausamos tu suscripción si no se completa el pago de <strong>%s</strong>. No perdés tu configuración ni datos.",
	},
	TypeInsufficientFunds: {
		"Intentamos cobrar <strong>%s</strong>, pero tu banco indicó <strong>fondos insuficientes</strong>. Podés usar otra tarjeta o esperar el reintento automático.",
		"Seguimos sin poder completar el cobro de <strong>%s</strong>. Si tu saldo ya está ok, una actualización rápida del método de pago suele destrabarlo.",
		"Ya pasaron 3 días y el cobro de <strong>%s</strong> sigue fallando por fondos insuficientes. La opción más rápida es cambiar de tarjeta.",
		"Tu suscripción está en riesgo. El cobro de <strong>%s</strong> sigue sin poder procesarse. <strong>Actualizá tu método de pago hoy</strong>.",
		"<strong>Último aviso:</strong> si no se completa el pago de <strong>%s</strong>, pausamos tu suscripción mañana.",
	},
	TypeDoNotHonor: {
		"Tu banco <strong>rechazó el cobro</strong> de <strong>%s</strong> sin un motivo específico. Probá con otra tarjeta o contactá a tu banco.",
		"¿Pudiste resolver el rechazo del banco? El cobro de <strong>%s</strong> sigue pendiente.",
		"Ya pasaron 3 días y tu banco sigue rechazando el cobro de <strong>%s</strong>. Usar otra tarjeta es la forma más rápida de destrabarlo.",
		"Tu acceso puede pausarse pronto. El cobro de <strong>%s</strong> fue rechazado por el banco múltiples veces. <strong>Actualizá tu tarjeta hoy</strong>.",
		"<strong>Último aviso:</strong> el banco sigue rechazando el cobro de <strong>%s</strong>. Mañana pausamos tu suscripción.",
	},
	TypeAuthRequired: {
		"Tu banco necesita una <strong>confirmación adicional</strong> (3D Secure) para procesar el cobro de <strong>%s</strong>. Autorizalo desde tu app bancaria o usá otra tarjeta.",
		"Falta confirmar tu pago de <strong>%s</strong>. Tu banco requiere verificación 3D Secure.",
		"Ya pasaron 3 días esperando la confirmación de tu pago de <strong>%s</strong>. Podés autorizarlo desde tu app bancaria o cambiar a otra tarjeta.",
		"Tu suscripción se pausa pronto si no confirmás el pago de <strong>%s</strong>. <strong>Confirmá la autenticación o cambiá de tarjeta</strong>.",
		"<strong>Último aviso:</strong> completá la verificación del pago de <strong>%s</strong> o actualizá tu tarjeta. Mañana pausamos el servicio.",
	},
	TypeIncorrectData: {
		"No pudimos procesar tu pago de <strong>%s</strong> porque los datos de tu tarjeta tienen un <strong>error</strong> (número, CVC o fecha de vencimiento).",
		"Seguimos viendo datos incorrectos en tu tarjeta. El cobro de <strong>%s</strong> no se puede procesar.",
		"Tu pago de <strong>%s</strong> sigue fallando por datos de tarjeta incorrectos. Actualizá los datos o probá con otra tarjeta.",
		"Tu suscripción se pausa pronto. Corregí los datos de tu tarjeta para que podamos cobrar <strong>%s</strong>.",
		"<strong>Último aviso:</strong> corregí tu tarjeta para completar el pago de <strong>%s</strong>. Mañana pausamos el acceso.",
	},
	TypeGeneric: {
		"Hubo un problema con el cobro de <strong>%s</strong>. Tu suscripción sigue activa: actualizá tu método de pago y queda resuelto.",
		"Pago pendiente: todavía no pudimos cobrar <strong>%s</strong>. Un click y queda, no cambia tu plan.",
		"Ya pasaron 3 días sin poder cobrar <strong>%s</strong>. Actualizá tu método de pago para evitar interrupciones.",
		"Tu acceso puede pausarse pronto. El cobro de <strong>%s</strong> sigue pendiente.",
		"<strong>Último aviso:</strong> completá el pago de <strong>%s</strong> o mañana pausamos tu suscripción.",
	},
}

const anxietyBlock = `<ul style="margin:0 0 12px;padding-left:18px;font-size:14px;line-height:1.8;color:#374151;">
      <li>Se hace en menos de 1 minuto</li>
      <li>No cambia tu plan</li>
      <li>No perdés configuración ni datos</li>
      <li>No hay cargos adicionales</li>
    </ul>`

// RenderHTML produces the full email body for a campaign step.
func RenderHTML(t MessageType, step int, p RenderParams) string {
	copySet, ok := bodyCopy[t]
	if !ok || step < 0 || step >= len(copySet) {
		copySet = bodyCopy[TypeGeneric]
	}
	if step < 0 || step > 4 {
		step = 0
	}

	amount := FormatAmount(p.AmountCents, p.Currency)
	body := fmt.Sprintf(copySet[step], amount)

	brandColor := orDefault(p.BrandColor, "#635bff")
	buttonColor := orDefault(p.ButtonColor, "#635bff")
	buttonText := orDefault(p.ButtonText, "#ffffff")
	companyName := orDefault(p.CompanyName, "Tu proveedor")
	cta := ctaByStep[step]

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8" /></head>` + "\n")
	b.WriteString(`<body style="font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;background:#f6f7fb;padding:28px;margin:0;">` + "\n")

	if p.Preheader != "" {
		b.WriteString(`<div style="display:none;max-height:0;overflow:hidden;opacity:0;color:transparent;visibility:hidden;">`)
		b.WriteString(html.EscapeString(p.Preheader))
		b.WriteString(`</div>` + "\n")
	}

	b.WriteString(`<div style="max-width:560px;margin:0 auto;background:#fff;border-radius:12px;padding:28px;border:1px solid #e7e7ef;">` + "\n")
	fmt.Fprintf(&b, `<h2 style="margin:0 0 16px;color:%s;font-size:18px;line-height:1.2;">%s</h2>`+"\n", brandColor, html.EscapeString(companyName))
	fmt.Fprintf(&b, `<div style="font-size:15px;line-height:1.55;color:#1f2937;"><p style="margin:0 0 12px;">Hola,</p><p style="margin:0 0 12px;">%s</p>`, body)
	if step <= 1 {
		b.WriteString(anxietyBlock)
	}
	b.WriteString(`</div>` + "\n")

	if p.ShowIncentive && p.IncentiveText != "" {
		fmt.Fprintf(&b, `<div style="margin-top:16px;padding:14px;border:2px solid #f59e0b;border-radius:10px;background:#fffbeb;"><p style="margin:0 0 4px;font-size:14px;font-weight:600;color:#92400e;">Oferta especial</p><p style="margin:0;font-size:13px;color:#78350f;">%s</p></div>`+"\n", html.EscapeString(p.IncentiveText))
	}

	fmt.Fprintf(&b, `<div style="margin-top:20px;text-align:center;"><a href="%s" style="display:block;width:100%%;max-width:400px;margin:0 auto;padding:16px 24px;background:%s;color:%s;text-decoration:none;border-radius:12px;font-weight:700;font-size:16px;text-align:center;box-sizing:border-box;">%s</a>`, p.PortalURL, buttonColor, buttonText, cta)
	b.WriteString(`<p style="margin-top:8px;font-size:12px;color:#9ca3af;">Este enlace es seguro y funciona solo para tu cuenta.</p></div>` + "\n")

	fmt.Fprintf(&b, `<p style="margin-top:22px;font-size:12px;color:#9ca3af;">Este email fue enviado por %s. Si ya actualizaste tu método de pago, podés ignorarlo.</p>`+"\n", html.EscapeString(companyName))
	b.WriteString(`</div>` + "\n")

	if p.OpenPixelURL != "" {
		fmt.Fprintf(&b, `<img src="%s" width="1" height="1" style="display:none;" alt="" />`+"\n", p.OpenPixelURL)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
