package main

import (
	"context"
	"fmt"
	"log"

	"github.com/tuomaz/gohaws"
)

// serviceCaller is the part of *gohaws.HaClient the notifier uses.
type serviceCaller interface {
	CallService(ctx context.Context, domain string, service string, serviceData interface{}, target string) error
}

// haNotifier announces tuning progress through Home Assistant's notify service.
type haNotifier struct {
	context context.Context
	client  serviceCaller
	device  string
	title   string
}

func newHaNotifier(ctx context.Context, uri string, token string, device string) *haNotifier {
	client := gohaws.New(ctx, uri, token)
	log.Printf("HA: notifications go to notify.%s", device)
	return &haNotifier{context: ctx, client: client, device: device, title: "Twiddle"}
}

func (ha *haNotifier) notify(message string) {
	data := &Notification{
		Title:   ha.title,
		Message: message,
	}
	if err := ha.client.CallService(ha.context, "notify", ha.device, data, ""); err != nil {
		log.Printf("HA: notify failed: %v", err)
	}
}

func formatImprovement(e TwiddleEvent) string {
	return fmt.Sprintf("coef %d improved MSE %.6f -> %.6f, coefs [%g, %g, %g]",
		e.Index, e.BestMSE, e.MSE, e.Coefs[0], e.Coefs[1], e.Coefs[2])
}
