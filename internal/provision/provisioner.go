// Package provision создаёт канал тикета: клонирует права целевой категории
// и даёт автору доступ на чтение и запись.
package provision

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/psds-microservice/ticket-desk/internal/errs"
	"github.com/psds-microservice/ticket-desk/internal/model"
	"github.com/psds-microservice/ticket-desk/internal/platform"
)

var channelNameRe = regexp.MustCompile(`[^a-z0-9-]+`)

// ChannelName — имя канала тикета из ника автора.
func ChannelName(username string) string {
	name := channelNameRe.ReplaceAllString(strings.ToLower(username), "-")
	name = strings.Trim(name, "-")
	if name == "" {
		name = "user"
	}
	return "ticket-" + name
}

type Provisioner struct {
	chat platform.Chat
}

func New(chat platform.Chat) *Provisioner {
	return &Provisioner{chat: chat}
}

// Provision создаёт канал тикета под целевой категорией. Канал создаётся
// только после того, как цель разрешилась: при ошибке резолва ничего не
// остаётся висеть. Любая ошибка здесь — errs.ErrProvisioningFailed.
func (p *Provisioner) Provision(ctx context.Context, cat *model.TicketCategory, userID, username string) (*platform.Channel, error) {
	parent, err := p.chat.FetchChannel(ctx, cat.CategoryChannelID)
	if err != nil {
		log.Printf("provision: resolve category channel %s (category %q): %v", cat.CategoryChannelID, cat.Name, err)
		return nil, fmt.Errorf("%w: category channel unresolved", errs.ErrProvisioningFailed)
	}
	overwrites, err := p.chat.ChannelOverwrites(ctx, parent.ID)
	if err != nil {
		log.Printf("provision: clone overwrites of %s: %v", parent.ID, err)
		return nil, fmt.Errorf("%w: clone permissions", errs.ErrProvisioningFailed)
	}
	overwrites = append(overwrites, platform.PermissionOverwrite{
		TargetID:   userID,
		TargetType: platform.TargetMember,
		Allow:      platform.PermRead | platform.PermWrite,
	})
	ch, err := p.chat.CreateChannel(ctx, platform.CreateChannelRequest{
		Name:       ChannelName(username),
		ParentID:   parent.ID,
		Overwrites: overwrites,
	})
	if err != nil {
		log.Printf("provision: create channel under %s: %v", parent.ID, err)
		return nil, fmt.Errorf("%w: create channel", errs.ErrProvisioningFailed)
	}
	return ch, nil
}
